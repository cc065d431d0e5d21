package model

import (
	"time"
)

type GatewaySession struct {
	Id          string    `gorm:"type:text;primaryKey"`
	Channel     string    `gorm:"type:text;not null"`
	UserId      string    `gorm:"type:text;index"`
	Context     string    `gorm:"type:text"`
	History     string    `gorm:"type:text"`
	ActiveTools string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	LastActive  time.Time `gorm:"index;not null"`
}

func (GatewaySession) TableName() string {
	return "gateway_sessions"
}
