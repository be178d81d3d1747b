package rounds

import (
	"time"

	"github.com/google/uuid"
)

// Patient statuses.
const (
	PatientActive     = "active"
	PatientDischarged = "discharged"
)

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
)

// Task statuses.
const (
	TaskOpen = "open"
	TaskDone = "done"
)

// Subpoint variants.
const (
	SubpointNote       = "note"
	SubpointProcedure  = "procedure"
	SubpointMedication = "medication"
)

// Investigation types.
const (
	InvestigationLab       = "lab"
	InvestigationImaging   = "imaging"
	InvestigationProcedure = "procedure"
	InvestigationOther     = "other"
)

var validIssueStatuses = map[string]bool{
	IssueOpen:     true,
	IssueResolved: true,
}

var validTaskStatuses = map[string]bool{
	TaskOpen: true,
	TaskDone: true,
}

// Patient is the aggregate root for a single admission on the ward list.
// It is only ever mutated through the Reconciler.
type Patient struct {
	ID                    string          `json:"id"`
	AdmissionID           string          `json:"admission_id"`
	Name                  string          `json:"name"`
	MRN                   string          `json:"mrn"`
	Bed                   string          `json:"bed"`
	OneLiner              string          `json:"one_liner"`
	Site                  string          `json:"site"`
	Tags                  []string        `json:"tags"`
	Status                string          `json:"status"`
	Issues                []Issue         `json:"issues"`
	Investigations        []Investigation `json:"investigations"`
	Tasks                 []Task          `json:"tasks"`
	ExpectedDischargeDate *string         `json:"expected_discharge_date,omitempty"`
	AdmissionFlags        AdmissionFlags  `json:"admission_flags"`
	ChecklistSkips        []ChecklistSkip `json:"checklist_skips"`
	IntakeNotes           []IntakeNote    `json:"intake_notes"`
	WardEntries           []WardEntry     `json:"ward_entries"`
	CreatedAt             time.Time       `json:"created_at"`
	LastUpdatedAt         time.Time       `json:"last_updated_at"`
	Version               int             `json:"version"`
}

// Issue is a clinical problem on the patient's problem list.
type Issue struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title"`
	Status        string     `json:"status,omitempty"`
	Subpoints     []Subpoint `json:"subpoints,omitempty"`
	Pinned        bool       `json:"pinned,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at,omitempty"`
}

// Subpoint is one timestamped event attached to an issue. Exactly one of
// Text, Procedure or Medication is meaningful, selected by Type.
type Subpoint struct {
	ID         string           `json:"id,omitempty"`
	Type       string           `json:"type"`
	Timestamp  time.Time        `json:"timestamp,omitempty"`
	Text       string           `json:"text,omitempty"`
	Procedure  *ProcedureEntry  `json:"procedure,omitempty"`
	Medication *MedicationEntry `json:"medication,omitempty"`
}

type ProcedureEntry struct {
	Name  string `json:"name"`
	Date  string `json:"date,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type MedicationEntry struct {
	Name       string `json:"name"`
	Dose       string `json:"dose,omitempty"`
	Route      string `json:"route,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	StopDate   string `json:"stop_date,omitempty"`
	Antibiotic bool   `json:"antibiotic,omitempty"`
}

// Investigation is a lab, imaging, procedure or other result.
type Investigation struct {
	ID            string     `json:"id,omitempty"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	LastUpdatedAt time.Time  `json:"last_updated_at,omitempty"`
	LabValues     []LabValue `json:"lab_values,omitempty"`
	Summary       *string    `json:"summary,omitempty"`
}

// LabValue is one point of a lab time series.
type LabValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Units string  `json:"units,omitempty"`
}

// Task is a ward job. CompletedAt is set at most once.
type Task struct {
	ID          string     `json:"id,omitempty"`
	Text        string     `json:"text"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AdmissionFlags are once-per-admission markers (e.g. "vte_prophylaxis_checked").
type AdmissionFlags struct {
	Flags     map[string]bool `json:"flags"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// ChecklistSkip records that a checklist item was deliberately not
// addressed for a condition during this admission.
type ChecklistSkip struct {
	ItemID    string    `json:"item_id"`
	Condition string    `json:"condition,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SkippedAt time.Time `json:"skipped_at,omitempty"`
}

// IntakeNote is free text captured when the patient was added to the list.
type IntakeNote struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// WardEntry is the immutable audit record of one commit.
type WardEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Transcript string         `json:"transcript"`
	Diff       WardUpdateDiff `json:"diff"`
}

// OpenIssues returns the issues that are not resolved.
func (p *Patient) OpenIssues() []Issue {
	var out []Issue
	for _, is := range p.Issues {
		if is.Status != IssueResolved {
			out = append(out, is)
		}
	}
	return out
}

// OpenTasks returns the tasks that are not done.
func (p *Patient) OpenTasks() []Task {
	var out []Task
	for _, t := range p.Tasks {
		if t.Status != TaskDone {
			out = append(out, t)
		}
	}
	return out
}

// NewID generates an identifier of the form "<prefix>-<uuid>".
func NewID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
