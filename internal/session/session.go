// Package session holds per-client conversation state and the store that
// owns it. A connection only ever holds a session id; the store keeps the
// canonical copy so reconnects never diverge.
package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ResearchContext accumulates the domain state gathered during a session:
// what was analyzed, what was learned, what is still hypothetical.
type ResearchContext struct {
	DocumentsAnalyzed    []string         `json:"documents_analyzed"`
	ExtractedKnowledge   map[string]any   `json:"extracted_knowledge"`
	MaterialsOfInterest  []string         `json:"materials_of_interest"`
	ActiveHypotheses     []map[string]any `json:"active_hypotheses"`
	ExternalInteractions []map[string]any `json:"external_interactions"`
}

func newResearchContext() ResearchContext {
	return ResearchContext{
		DocumentsAnalyzed:    []string{},
		ExtractedKnowledge:   map[string]any{},
		MaterialsOfInterest:  []string{},
		ActiveHypotheses:     []map[string]any{},
		ExternalInteractions: []map[string]any{},
	}
}

// HistoryEntry is one turn of the conversation. Topics feed the context
// window summary.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Topics    []string  `json:"topics,omitempty"`
}

// Session is one logical client conversation. Fields behind the mutex are
// mutated by the task currently dispatching a message for this session and
// read by the sweep/persistence layer, never concurrently written from two
// dispatches.
type Session struct {
	ID        string
	Channel   string
	CreatedAt time.Time
	UserID    string

	mu          sync.Mutex
	context     ResearchContext
	history     []HistoryEntry
	activeTools map[string]bool

	lastActive atomic.Int64 // unix nanos
}

func newSession(id, channel, userID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:          id,
		Channel:     channel,
		CreatedAt:   time.Now().UTC(),
		UserID:      userID,
		context:     newResearchContext(),
		activeTools: map[string]bool{},
	}
	s.Touch()
	return s
}

// Touch refreshes the last-active timestamp.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the last-active timestamp.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}

// IdleFor returns how long the session has been quiet.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActive())
}

// AddHistory appends a conversation turn, defaulting its timestamp.
func (s *Session) AddHistory(entry HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	s.mu.Unlock()
}

// History returns a copy of the conversation history.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// UpdateContext applies fn to the research context under the session lock.
func (s *Session) UpdateContext(fn func(*ResearchContext)) {
	s.mu.Lock()
	fn(&s.context)
	s.mu.Unlock()
}

// Context returns a deep copy of the research context.
func (s *Session) Context() ResearchContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyContext(s.context)
}

// AddTool marks a tool as active for this session.
func (s *Session) AddTool(name string) {
	s.mu.Lock()
	s.activeTools[name] = true
	s.mu.Unlock()
}

// RemoveTool clears an active tool.
func (s *Session) RemoveTool(name string) {
	s.mu.Lock()
	delete(s.activeTools, name)
	s.mu.Unlock()
}

// ActiveTools returns the sorted-insensitive set of active tools.
func (s *Session) ActiveTools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.activeTools))
	for name := range s.activeTools {
		out = append(out, name)
	}
	return out
}

// ContextWindow builds the state summary handed to the external assistant:
// identity, research context, a conversation digest, active tools.
func (s *Session) ContextWindow() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := map[string]any{
		"message_count":    len(s.history),
		"topics":           []string{},
		"last_interaction": nil,
	}
	if len(s.history) > 0 {
		seen := map[string]bool{}
		topics := []string{}
		for _, entry := range s.history {
			for _, topic := range entry.Topics {
				if !seen[topic] {
					seen[topic] = true
					topics = append(topics, topic)
				}
			}
		}
		if len(topics) > 10 {
			topics = topics[:10]
		}
		summary["topics"] = topics
		summary["last_interaction"] = s.history[len(s.history)-1].Timestamp
	}

	tools := make([]string, 0, len(s.activeTools))
	for name := range s.activeTools {
		tools = append(tools, name)
	}

	return map[string]any{
		"session_id":           s.ID,
		"channel":              s.Channel,
		"user_id":              s.UserID,
		"research_context":     copyContext(s.context),
		"conversation_summary": summary,
		"active_tools":         tools,
	}
}

func copyContext(src ResearchContext) ResearchContext {
	dst := ResearchContext{
		DocumentsAnalyzed:    append([]string{}, src.DocumentsAnalyzed...),
		ExtractedKnowledge:   map[string]any{},
		MaterialsOfInterest:  append([]string{}, src.MaterialsOfInterest...),
		ActiveHypotheses:     append([]map[string]any{}, src.ActiveHypotheses...),
		ExternalInteractions: append([]map[string]any{}, src.ExternalInteractions...),
	}
	for k, v := range src.ExtractedKnowledge {
		dst.ExtractedKnowledge[k] = v
	}
	return dst
}

// Snapshot is the serializable form of a session, matching the persisted
// record layout: one record per session, keyed by id, with context, history
// and tools as JSON text.
type Snapshot struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"user_id,omitempty"`
	Context     string    `json:"context"`
	History     string    `json:"conversation_history"`
	ActiveTools string    `json:"active_tools"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// Snapshot serializes the session for the durable store.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	ctxData, err := json.Marshal(s.context)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	histData, err := json.Marshal(s.history)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	tools := make([]string, 0, len(s.activeTools))
	for name := range s.activeTools {
		tools = append(tools, name)
	}
	s.mu.Unlock()

	toolData, err := json.Marshal(tools)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:          s.ID,
		Channel:     s.Channel,
		UserID:      s.UserID,
		Context:     string(ctxData),
		History:     string(histData),
		ActiveTools: string(toolData),
		CreatedAt:   s.CreatedAt,
		LastActive:  s.LastActive(),
	}, nil
}

// Restore rebuilds a session from a durable snapshot. Malformed fields fall
// back to empty state rather than failing the rehydrate.
func Restore(snap *Snapshot) *Session {
	s := newSession(snap.ID, snap.Channel, snap.UserID)
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}

	var rc ResearchContext
	if err := json.Unmarshal([]byte(snap.Context), &rc); err == nil {
		if rc.ExtractedKnowledge == nil {
			rc.ExtractedKnowledge = map[string]any{}
		}
		s.context = rc
	}
	var history []HistoryEntry
	if err := json.Unmarshal([]byte(snap.History), &history); err == nil {
		s.history = history
	}
	var tools []string
	if err := json.Unmarshal([]byte(snap.ActiveTools), &tools); err == nil {
		for _, name := range tools {
			s.activeTools[name] = true
		}
	}

	if !snap.LastActive.IsZero() {
		s.lastActive.Store(snap.LastActive.UnixNano())
	}
	return s
}
