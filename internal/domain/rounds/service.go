package rounds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoCompleter  = errors.New("no language model configured")
	ErrCompletion   = errors.New("language model request failed")
)

// DefaultWard is used by QuickAddPatient when no ward is given.
const DefaultWard = "Cabrini"

// EntryPublisher announces committed ward entries to downstream consumers.
type EntryPublisher interface {
	PublishWardEntry(ctx context.Context, patientID string, entry WardEntry) error
}

// CommitResult is returned by ApplyPendingDiff.
type CommitResult struct {
	Patient *Patient  `json:"patient"`
	Entry   WardEntry `json:"ward_entry"`
	Session *Session  `json:"session"`
}

type Service struct {
	repo        PatientRepository
	sessions    *SessionManager
	reconciler  *Reconciler
	completer   Completer
	publisher   EntryPublisher
	locks       *patientLocks
	logger      zerolog.Logger
	defaultWard string
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithCompleter(c Completer) ServiceOption {
	return func(s *Service) { s.completer = c }
}

func WithPublisher(p EntryPublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithReconciler(r *Reconciler) ServiceOption {
	return func(s *Service) { s.reconciler = r }
}

func WithDefaultWard(ward string) ServiceOption {
	return func(s *Service) {
		if ward != "" {
			s.defaultWard = ward
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(repo PatientRepository, sessions *SessionManager, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		sessions:    sessions,
		locks:       newPatientLocks(),
		logger:      zerolog.Nop(),
		defaultWard: DefaultWard,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reconciler == nil {
		s.reconciler = NewReconciler(WithReconcilerClock(s.now))
	}
	return s
}

// -- Sessions --

func (s *Service) CreateSession(ctx context.Context, patientID string, mode Mode) (*Session, error) {
	p, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.Status == PatientDischarged {
		return nil, fmt.Errorf("%w: patient %s is discharged", ErrInvalidInput, patientID)
	}
	sess, err := s.sessions.Create(p, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("patient_id", sess.PatientID).
		Str("mode", string(sess.Mode)).
		Msg("session created")
	return sess, nil
}

func (s *Service) GetSession(_ context.Context, id string) (*Session, error) {
	return s.sessions.Get(id)
}

func (s *Service) ListSessions(_ context.Context, f SessionFilter) []*Session {
	return s.sessions.List(f)
}

func (s *Service) DiscardSession(_ context.Context, id string) error {
	if err := s.sessions.Discard(id); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", id).Msg("session discarded")
	return nil
}

// RecordTurn folds a pre-structured turn into the session.
func (s *Service) RecordTurn(_ context.Context, sessionID string, turn Turn) (*Session, error) {
	sess, err := s.sessions.RecordTurn(sessionID, turn)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("session_id", sess.ID).
		Int("turns", sess.Turns).
		Msg("turn recorded")
	return sess, nil
}

// RunTurn asks the language model to interpret userInput and records the
// result. An unparseable reply is recorded as a fallback turn with an empty
// diff; only transport failures are returned as errors.
func (s *Service) RunTurn(ctx context.Context, sessionID, userInput string) (*Session, TurnResult, error) {
	if s.completer == nil {
		return nil, nil, ErrNoCompleter
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, nil, fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.repo.GetByID(ctx, sess.PatientID)
	if err != nil {
		return nil, nil, err
	}

	prompt := BuildTurnPrompt(sess, p, userInput)
	raw, err := s.completer.Complete(ctx, prompt.System, prompt.User)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	result := ParseTurnResponse(raw)
	if fb, ok := result.(*FallbackTurn); ok {
		s.logger.Warn().
			Err(fb.Reason).
			Str("session_id", sessionID).
			Msg("unparseable model reply, recording fallback turn")
	}

	input := userInput
	updated, err := s.sessions.RecordTurn(sessionID, result.Turn(&input))
	if err != nil {
		return nil, nil, err
	}
	return updated, result, nil
}

// ApplyPendingDiff commits the session's pending diff to its patient. It
// returns nil, nil when there is nothing to apply. Commits for the same
// patient are serialized and the store rejects stale versions. Turns
// recorded while the commit runs stay pending.
func (s *Service) ApplyPendingDiff(ctx context.Context, sessionID string, transcriptOverride *string) (*CommitResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if IsEmpty(sess.PendingDiff) {
		return nil, nil
	}

	unlock := s.locks.Lock(sess.PatientID)
	defer unlock()

	var result *CommitResult
	reset, err := s.sessions.Commit(sessionID, func(snap *Session) (bool, error) {
		if IsEmpty(snap.PendingDiff) {
			return false, nil
		}
		p, err := s.repo.GetByID(ctx, snap.PatientID)
		if err != nil {
			return false, err
		}

		transcript := defaultTranscript(snap)
		if transcriptOverride != nil {
			transcript = *transcriptOverride
		}

		next, entry := s.reconciler.Apply(p, snap.PendingDiff, transcript)
		next.Version = p.Version + 1
		if err := s.repo.Update(ctx, next, p.Version, &entry); err != nil {
			return false, fmt.Errorf("commit session %s: %w", sessionID, err)
		}
		result = &CommitResult{Patient: next, Entry: entry}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	result.Session = reset

	s.logger.Info().
		Str("session_id", sessionID).
		Str("patient_id", result.Patient.ID).
		Str("ward_entry_id", result.Entry.ID).
		Int("version", result.Patient.Version).
		Msg("pending diff committed")

	s.publish(ctx, result.Patient.ID, result.Entry)
	return result, nil
}

func defaultTranscript(sess *Session) string {
	if len(sess.SummaryLines) > 0 {
		return strings.Join(sess.SummaryLines, "\n")
	}
	var lines []string
	for _, m := range sess.History {
		if m.Role == RoleUser {
			lines = append(lines, m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Service) publish(ctx context.Context, patientID string, entry WardEntry) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishWardEntry(ctx, patientID, entry); err != nil {
		s.logger.Error().
			Err(err).
			Str("patient_id", patientID).
			Str("ward_entry_id", entry.ID).
			Msg("publish ward entry")
	}
}

// StartSweeper expires idle sessions every interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if expired := s.sessions.expireIdle(s.now()); len(expired) > 0 {
					s.logger.Info().Strs("session_ids", expired).Msg("idle sessions expired")
				}
			}
		}
	}()
}

// -- Patients --

// QuickAddPatient puts a new admission on the ward list. The scratchpad,
// when given, is kept as the first intake note.
func (s *Service) QuickAddPatient(ctx context.Context, name, scratchpad, ward string) (*Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	ward = strings.TrimSpace(ward)
	if ward == "" {
		ward = s.defaultWard
	}
	now := s.now().UTC()
	p := ClonePatient(nil)
	p.ID = NewID("patient")
	p.AdmissionID = NewID("admission")
	p.Name = name
	p.Site = ward
	p.CreatedAt = now
	p.LastUpdatedAt = now
	p.Version = 1
	if note := strings.TrimSpace(scratchpad); note != "" {
		p.IntakeNotes = append(p.IntakeNotes, IntakeNote{ID: NewID("intake"), Timestamp: now, Text: note})
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID).Str("site", p.Site).Msg("patient added")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, status string, limit, offset int) ([]*Patient, int, error) {
	if status != "" && status != PatientActive && status != PatientDischarged {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

// DischargePatient marks the patient discharged. Discharging twice is a no-op.
func (s *Service) DischargePatient(ctx context.Context, id, note string) (*Patient, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == PatientDischarged {
		return p, nil
	}
	next, entry := s.reconciler.Discharge(p, note)
	next.Version = p.Version + 1
	if err := s.repo.Update(ctx, next, p.Version, &entry); err != nil {
		return nil, fmt.Errorf("discharge patient %s: %w", id, err)
	}
	s.logger.Info().Str("patient_id", id).Str("ward_entry_id", entry.ID).Msg("patient discharged")
	s.publish(ctx, id, entry)
	return next, nil
}

func (s *Service) ListWardEntries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, int, error) {
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListWardEntries(ctx, patientID, limit, offset)
}
