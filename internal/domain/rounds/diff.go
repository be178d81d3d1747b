package rounds

import "time"

// WardUpdateDiff is a proposed set of changes to a patient record. Diffs are
// accumulated across conversational turns and applied on commit. Every
// consumer works on a normalized diff, so slice fields are never nil.
type WardUpdateDiff struct {
	IssuesToAdd           []Issue               `json:"issues_to_add"`
	IssueUpdates          []IssueUpdate         `json:"issue_updates"`
	InvestigationsToAdd   []Investigation       `json:"investigations_to_add"`
	InvestigationUpdates  []InvestigationUpdate `json:"investigation_updates"`
	TasksToAdd            []Task                `json:"tasks_to_add"`
	TaskUpdates           []TaskUpdate          `json:"task_updates"`
	TaskIDsCompleted      []string              `json:"task_ids_completed"`
	TaskTextsCompleted    []string              `json:"task_texts_completed"`
	ExpectedDischargeDate DateUpdate            `json:"expected_discharge_date"`
	AdmissionFlags        *FlagUpdate           `json:"admission_flags,omitempty"`
	ChecklistSkips        []ChecklistSkip       `json:"checklist_skips"`
	PatientID             string                `json:"patient_id,omitempty"`
	AdmissionID           string                `json:"admission_id,omitempty"`
}

// IssueUpdate changes an existing issue. A nil Status leaves it untouched;
// Subpoints are always appended.
type IssueUpdate struct {
	ID        string     `json:"id"`
	Status    *string    `json:"status,omitempty"`
	Subpoints []Subpoint `json:"subpoints"`
}

// InvestigationUpdate appends lab values and optionally replaces the summary.
type InvestigationUpdate struct {
	ID        string     `json:"id"`
	LabValues []LabValue `json:"lab_values"`
	Summary   *string    `json:"summary,omitempty"`
}

// TaskUpdate overrides the text and/or status of an existing task.
type TaskUpdate struct {
	ID     string  `json:"id"`
	Text   *string `json:"text,omitempty"`
	Status *string `json:"status,omitempty"`
}

// FlagUpdate is a partial admission-flag map.
type FlagUpdate struct {
	Flags     map[string]bool `json:"flags"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// DateState distinguishes an absent field from an explicit clear.
type DateState int

const (
	DateUnset DateState = iota
	DateCleared
	DateSet
)

// DateUpdate is a tri-state optional date: Unset leaves the patient value
// alone, Cleared removes it and Set overwrites it.
type DateUpdate struct {
	State DateState
	Value string
}

// SetDate returns a DateUpdate that overwrites the date with v. An empty v
// is treated as a clear.
func SetDate(v string) DateUpdate {
	if v == "" {
		return DateUpdate{State: DateCleared}
	}
	return DateUpdate{State: DateSet, Value: v}
}

// ClearDate returns a DateUpdate that removes the date.
func ClearDate() DateUpdate {
	return DateUpdate{State: DateCleared}
}

// IsUnset reports whether the update carries no instruction.
func (d DateUpdate) IsUnset() bool { return d.State == DateUnset }

// EmptyDiff returns a normalized diff with no changes.
func EmptyDiff() WardUpdateDiff {
	return Normalize(nil)
}

// Clone returns a deep copy of the diff.
func (d WardUpdateDiff) Clone() WardUpdateDiff {
	return Normalize(&d)
}

func strPtr(s string) *string { return &s }

func cloneStrPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneLabValues(in []LabValue) []LabValue {
	out := make([]LabValue, len(in))
	copy(out, in)
	return out
}

func cloneSubpoint(sp Subpoint) Subpoint {
	out := sp
	if sp.Procedure != nil {
		p := *sp.Procedure
		out.Procedure = &p
	}
	if sp.Medication != nil {
		m := *sp.Medication
		out.Medication = &m
	}
	return out
}

func cloneSubpoints(in []Subpoint) []Subpoint {
	out := make([]Subpoint, len(in))
	for i, sp := range in {
		out[i] = cloneSubpoint(sp)
	}
	return out
}

func cloneIssue(is Issue) Issue {
	out := is
	out.Subpoints = cloneSubpoints(is.Subpoints)
	return out
}

func cloneInvestigation(inv Investigation) Investigation {
	out := inv
	out.LabValues = cloneLabValues(inv.LabValues)
	out.Summary = cloneStrPtr(inv.Summary)
	return out
}

func cloneTask(t Task) Task {
	out := t
	out.CompletedAt = cloneTimePtr(t.CompletedAt)
	return out
}

func cloneIssueUpdate(u IssueUpdate) IssueUpdate {
	return IssueUpdate{
		ID:        u.ID,
		Status:    cloneStrPtr(u.Status),
		Subpoints: cloneSubpoints(u.Subpoints),
	}
}

func cloneInvestigationUpdate(u InvestigationUpdate) InvestigationUpdate {
	return InvestigationUpdate{
		ID:        u.ID,
		LabValues: cloneLabValues(u.LabValues),
		Summary:   cloneStrPtr(u.Summary),
	}
}

func cloneTaskUpdate(u TaskUpdate) TaskUpdate {
	return TaskUpdate{
		ID:     u.ID,
		Text:   cloneStrPtr(u.Text),
		Status: cloneStrPtr(u.Status),
	}
}

// cloneSkip copies a checklist skip. Skips hold no references.
func cloneSkip(s ChecklistSkip) ChecklistSkip { return s }

func cloneFlagMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFlagUpdate(f *FlagUpdate) *FlagUpdate {
	if f == nil {
		return nil
	}
	return &FlagUpdate{
		Flags:     cloneFlagMap(f.Flags),
		UpdatedAt: cloneTimePtr(f.UpdatedAt),
	}
}
