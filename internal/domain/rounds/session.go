package rounds

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for any operation on an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Mode is the conversational mode of a session.
type Mode string

const (
	ModeWardRound Mode = "ward_round"
	ModeDictation Mode = "dictation"
)

var validModes = map[Mode]bool{
	ModeWardRound: true,
	ModeDictation: true,
}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	if m == "" {
		return ModeWardRound, nil
	}
	if !validModes[m] {
		return "", fmt.Errorf("invalid mode: %s", s)
	}
	return m, nil
}

// Message roles in the session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryLimit bounds the number of history messages kept per session.
const DefaultHistoryLimit = 12

// Message is one entry of the conversational history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session accumulates diffs across the turns of one conversation about one
// patient. Sessions are ephemeral and never touch the patient until
// committed.
type Session struct {
	ID                   string          `json:"id"`
	PatientID            string          `json:"patient_id"`
	AdmissionID          string          `json:"admission_id"`
	Mode                 Mode            `json:"mode"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	History              []Message       `json:"history"`
	PendingDiff          WardUpdateDiff  `json:"pending_diff"`
	SummaryLines         []string        `json:"summary_lines"`
	LastAssistantMessage string          `json:"last_assistant_message"`
	ChecklistSkips       []ChecklistSkip `json:"checklist_skips"`
	Turns                int             `json:"turns"`
}

// Turn is the structured outcome of one conversational exchange.
type Turn struct {
	RawDiff          *WardUpdateDiff
	AssistantMessage string
	SummaryLines     []string
	UserInput        *string
}

// SessionFilter narrows List. Zero values match everything.
type SessionFilter struct {
	PatientID string
	Mode      Mode
}

type sessionEntry struct {
	mu        sync.Mutex
	session   Session
	discarded bool
}

// SessionManager owns the lifetime of conversation sessions. It is safe for
// concurrent use; turns on the same session are serialized.
type SessionManager struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionEntry
	historyLimit int
	ttl          time.Duration
	now          func() time.Time
	newID        func(prefix string) string
	merger       *Merger
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithHistoryLimit bounds the history window. Values below 2 are ignored.
func WithHistoryLimit(n int) SessionOption {
	return func(m *SessionManager) {
		if n >= 2 {
			m.historyLimit = n
		}
	}
}

// WithSessionTTL sets the idle time after which ExpireIdle drops a session.
func WithSessionTTL(d time.Duration) SessionOption {
	return func(m *SessionManager) { m.ttl = d }
}

// WithSessionClock overrides the clock.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithSessionIDGenerator overrides session id generation.
func WithSessionIDGenerator(gen func(prefix string) string) SessionOption {
	return func(m *SessionManager) { m.newID = gen }
}

func NewSessionManager(opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		sessions:     make(map[string]*sessionEntry),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.merger = NewMerger(m.now)
	return m
}

// Create starts a session for the patient with an empty pending diff.
func (m *SessionManager) Create(p *Patient, mode Mode) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("patient is required")
	}
	if !validModes[mode] {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}
	now := m.now().UTC()
	s := Session{
		ID:             m.newID("session"),
		PatientID:      p.ID,
		AdmissionID:    p.AdmissionID,
		Mode:           mode,
		CreatedAt:      now,
		UpdatedAt:      now,
		History:        []Message{},
		PendingDiff:    EmptyDiff(),
		SummaryLines:   []string{},
		ChecklistSkips: unionBy(SkipKey, cloneSkip, p.ChecklistSkips),
	}

	m.mu.Lock()
	m.sessions[s.ID] = &sessionEntry{session: s}
	m.mu.Unlock()
	return cloneSession(&s), nil
}

func (m *SessionManager) lookup(id string) (*sessionEntry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// update runs fn with the session locked.
func (m *SessionManager) update(id string, fn func(s *Session)) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discarded {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	fn(&e.session)
	return cloneSession(&e.session), nil
}

// RecordTurn folds one turn into the session: the diff is normalized and
// merged into the pending diff, summary lines are unioned, the exchange is
// appended to the bounded history and the checklist-skip snapshot is
// refreshed from the merged diff.
func (m *SessionManager) RecordTurn(id string, turn Turn) (*Session, error) {
	return m.update(id, func(s *Session) {
		now := m.now().UTC()
		incoming := Normalize(turn.RawDiff)
		s.PendingDiff = m.merger.Merge(s.PendingDiff, incoming)

		lines := make([]string, 0, len(turn.SummaryLines))
		for _, l := range turn.SummaryLines {
			lines = append(lines, strings.TrimSpace(l))
		}
		s.SummaryLines = unionStrings(NormalizeText, s.SummaryLines, lines)

		if turn.UserInput != nil {
			s.History = append(s.History, Message{Role: RoleUser, Content: *turn.UserInput, Timestamp: now})
		}
		if turn.AssistantMessage != "" {
			s.History = append(s.History, Message{Role: RoleAssistant, Content: turn.AssistantMessage, Timestamp: now})
			s.LastAssistantMessage = turn.AssistantMessage
		}
		if over := len(s.History) - m.historyLimit; over > 0 {
			s.History = append([]Message{}, s.History[over:]...)
		}

		s.ChecklistSkips = unionBy(SkipKey, cloneSkip, s.ChecklistSkips, s.PendingDiff.ChecklistSkips)
		s.Turns++
		s.UpdatedAt = now
	})
}

// ResetPending clears the pending diff and summary after a commit. The
// history is kept so the conversation can continue.
func (m *SessionManager) ResetPending(id string) (*Session, error) {
	return m.update(id, m.resetPending)
}

func (m *SessionManager) resetPending(s *Session) {
	s.PendingDiff = EmptyDiff()
	s.SummaryLines = []string{}
	s.UpdatedAt = m.now().UTC()
}

// CommitFunc persists a snapshot of the session. It reports whether the
// pending diff was committed and should be cleared.
type CommitFunc func(snapshot *Session) (bool, error)

// Commit runs fn on a snapshot of the session with the session locked, so
// turns recorded meanwhile wait and land in the next pending diff. The
// pending diff is cleared only when fn commits it.
func (m *SessionManager) Commit(id string, fn CommitFunc) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discarded {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	committed, err := fn(cloneSession(&e.session))
	if err != nil {
		return nil, err
	}
	if committed {
		m.resetPending(&e.session)
	}
	return cloneSession(&e.session), nil
}

// Discard removes the session. The patient is unaffected.
func (m *SessionManager) Discard(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.mu.Lock()
	e.discarded = true
	e.mu.Unlock()
	return nil
}

// Get returns a copy of the session.
func (m *SessionManager) Get(id string) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(&e.session), nil
}

// List returns copies of the sessions matching f, most recently updated first.
func (m *SessionManager) List(f SessionFilter) []*Session {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s := e.session
		match := (f.PatientID == "" || s.PatientID == f.PatientID) && (f.Mode == "" || s.Mode == f.Mode)
		if match {
			out = append(out, cloneSession(&s))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ExpireIdle drops sessions idle for longer than the TTL and returns how
// many were dropped. A zero TTL disables expiry.
func (m *SessionManager) ExpireIdle(now time.Time) int {
	return len(m.expireIdle(now))
}

// expireIdle drops idle sessions and returns their ids in order.
func (m *SessionManager) expireIdle(now time.Time) []string {
	if m.ttl <= 0 {
		return nil
	}
	var expired []string
	m.mu.Lock()
	for id, e := range m.sessions {
		// A locked session is mid-turn or mid-commit, so not idle.
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.session.UpdatedAt) > m.ttl {
			e.discarded = true
			delete(m.sessions, id)
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()
	sort.Strings(expired)
	return expired
}

func cloneSession(s *Session) *Session {
	out := *s
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	out.PendingDiff = s.PendingDiff.Clone()
	out.SummaryLines = cloneStrings(s.SummaryLines)
	out.ChecklistSkips = make([]ChecklistSkip, len(s.ChecklistSkips))
	copy(out.ChecklistSkips, s.ChecklistSkips)
	return &out
}
