package implementation

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arc-pbc-co/hal-9000/internal/model"
	"github.com/arc-pbc-co/hal-9000/internal/session"
)

// GormSnapshotRepository persists session snapshots in the
// gateway_sessions table, one row per session keyed by id.
type GormSnapshotRepository struct {
	db *gorm.DB
}

func NewGormSnapshotRepository(db *gorm.DB) (*GormSnapshotRepository, error) {
	if err := db.AutoMigrate(&model.GatewaySession{}); err != nil {
		return nil, err
	}
	return &GormSnapshotRepository{db: db}, nil
}

func toModel(snap *session.Snapshot) *model.GatewaySession {
	return &model.GatewaySession{
		Id:          snap.ID,
		Channel:     snap.Channel,
		UserId:      snap.UserID,
		Context:     snap.Context,
		History:     snap.History,
		ActiveTools: snap.ActiveTools,
		CreatedAt:   snap.CreatedAt,
		LastActive:  snap.LastActive,
	}
}

func toSnapshot(m *model.GatewaySession) *session.Snapshot {
	return &session.Snapshot{
		ID:          m.Id,
		Channel:     m.Channel,
		UserID:      m.UserId,
		Context:     m.Context,
		History:     m.History,
		ActiveTools: m.ActiveTools,
		CreatedAt:   m.CreatedAt,
		LastActive:  m.LastActive,
	}
}

func (r *GormSnapshotRepository) Save(ctx context.Context, snap *session.Snapshot) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(toModel(snap)).Error
}

func (r *GormSnapshotRepository) LoadActive(ctx context.Context, cutoff time.Time) ([]*session.Snapshot, error) {
	var rows []model.GatewaySession
	err := r.db.WithContext(ctx).
		Where("last_active >= ?", cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	snaps := make([]*session.Snapshot, 0, len(rows))
	for i := range rows {
		snaps = append(snaps, toSnapshot(&rows[i]))
	}
	return snaps, nil
}

func (r *GormSnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		Delete(&model.GatewaySession{}).Error
}

func (r *GormSnapshotRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_active < ?", cutoff).
		Delete(&model.GatewaySession{})
	return result.RowsAffected, result.Error
}

func (r *GormSnapshotRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.GatewaySession{}).
		Where("id = ?", sessionID).
		Update("last_active", at).Error
}
