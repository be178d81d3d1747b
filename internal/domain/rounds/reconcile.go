package rounds

import (
	"time"
)

// Reconciler applies finalized diffs to patients. It performs no I/O.
type Reconciler struct {
	now   func() time.Time
	newID func(prefix string) string
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock overrides the clock used for timestamps.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(gen func(prefix string) string) ReconcilerOption {
	return func(r *Reconciler) { r.newID = gen }
}

func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{now: time.Now, newID: NewID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsEmpty reports whether applying d would change nothing but the audit
// log. Callers should skip the commit in that case.
func IsEmpty(d WardUpdateDiff) bool {
	return len(d.IssuesToAdd) == 0 &&
		len(d.IssueUpdates) == 0 &&
		len(d.InvestigationsToAdd) == 0 &&
		len(d.InvestigationUpdates) == 0 &&
		len(d.TasksToAdd) == 0 &&
		len(d.TaskUpdates) == 0 &&
		len(d.TaskIDsCompleted) == 0 &&
		len(d.TaskTextsCompleted) == 0 &&
		len(d.ChecklistSkips) == 0 &&
		d.ExpectedDischargeDate.IsUnset() &&
		(d.AdmissionFlags == nil || len(d.AdmissionFlags.Flags) == 0)
}

// Apply commits d to a copy of p and returns the new patient together with
// the WardEntry appended to its audit log. p is never modified. Updates
// that reference unknown issues, investigations or tasks are ignored.
func (r *Reconciler) Apply(p *Patient, d WardUpdateDiff, transcript string) (*Patient, WardEntry) {
	diff := Normalize(&d)
	next := ClonePatient(p)
	now := r.now().UTC()

	r.addIssues(next, diff.IssuesToAdd, now)
	r.updateIssues(next, diff.IssueUpdates, now)
	r.addInvestigations(next, diff.InvestigationsToAdd, now)
	r.updateInvestigations(next, diff.InvestigationUpdates, now)
	r.addTasks(next, diff.TasksToAdd, now)
	r.updateTasks(next, diff.TaskUpdates, now)
	completeTasks(next, diff.TaskIDsCompleted, diff.TaskTextsCompleted, now)

	switch diff.ExpectedDischargeDate.State {
	case DateSet:
		next.ExpectedDischargeDate = strPtr(diff.ExpectedDischargeDate.Value)
	case DateCleared:
		next.ExpectedDischargeDate = nil
	}

	if diff.AdmissionFlags != nil && len(diff.AdmissionFlags.Flags) > 0 {
		if next.AdmissionFlags.Flags == nil {
			next.AdmissionFlags.Flags = map[string]bool{}
		}
		for k, v := range diff.AdmissionFlags.Flags {
			next.AdmissionFlags.Flags[k] = v
		}
		stamp := now
		next.AdmissionFlags.UpdatedAt = &stamp
	}

	if len(diff.ChecklistSkips) > 0 {
		incoming := make([]ChecklistSkip, len(diff.ChecklistSkips))
		for i, s := range diff.ChecklistSkips {
			if s.SkippedAt.IsZero() {
				s.SkippedAt = now
			}
			incoming[i] = s
		}
		next.ChecklistSkips = unionBy(SkipKey, cloneSkip, next.ChecklistSkips, incoming)
	}

	entry := WardEntry{
		ID:         r.newID("ward"),
		Timestamp:  now,
		Transcript: transcript,
		Diff:       diff.Clone(),
	}
	next.WardEntries = append(next.WardEntries, entry)
	next.LastUpdatedAt = now
	return next, entry
}

// Discharge marks the patient discharged and records an audit entry with
// an empty diff.
func (r *Reconciler) Discharge(p *Patient, note string) (*Patient, WardEntry) {
	next := ClonePatient(p)
	now := r.now().UTC()
	next.Status = PatientDischarged
	entry := WardEntry{
		ID:         r.newID("ward"),
		Timestamp:  now,
		Transcript: note,
		Diff:       EmptyDiff(),
	}
	next.WardEntries = append(next.WardEntries, entry)
	next.LastUpdatedAt = now
	return next, entry
}

func (r *Reconciler) addIssues(p *Patient, issues []Issue, now time.Time) {
	for _, is := range issues {
		if is.ID != "" && findIssue(p, is.ID) >= 0 {
			continue
		}
		is = cloneIssue(is)
		if is.ID == "" {
			is.ID = r.newID("issue")
		}
		if !validIssueStatuses[is.Status] {
			is.Status = IssueOpen
		}
		for i := range is.Subpoints {
			r.stampSubpoint(&is.Subpoints[i], now)
		}
		is.LastUpdatedAt = now
		p.Issues = append(p.Issues, is)
	}
}

func (r *Reconciler) updateIssues(p *Patient, updates []IssueUpdate, now time.Time) {
	for _, u := range updates {
		i := findIssue(p, u.ID)
		if i < 0 {
			continue
		}
		is := &p.Issues[i]
		if u.Status != nil && validIssueStatuses[*u.Status] {
			is.Status = *u.Status
		}
		for _, sp := range u.Subpoints {
			sp = cloneSubpoint(sp)
			r.stampSubpoint(&sp, now)
			is.Subpoints = append(is.Subpoints, sp)
		}
		is.LastUpdatedAt = now
	}
}

func (r *Reconciler) stampSubpoint(sp *Subpoint, now time.Time) {
	if sp.ID == "" {
		sp.ID = r.newID("sub")
	}
	if sp.Timestamp.IsZero() {
		sp.Timestamp = now
	}
	if sp.Type == "" {
		switch {
		case sp.Procedure != nil:
			sp.Type = SubpointProcedure
		case sp.Medication != nil:
			sp.Type = SubpointMedication
		default:
			sp.Type = SubpointNote
		}
	}
}

func (r *Reconciler) addInvestigations(p *Patient, invs []Investigation, now time.Time) {
	for _, inv := range invs {
		if inv.ID != "" && findInvestigation(p, inv.ID) >= 0 {
			continue
		}
		inv = cloneInvestigation(inv)
		if inv.ID == "" {
			inv.ID = r.newID("inv")
		}
		if inv.Type == "" {
			inv.Type = InvestigationOther
			if len(inv.LabValues) > 0 {
				inv.Type = InvestigationLab
			}
		}
		inv.LastUpdatedAt = now
		p.Investigations = append(p.Investigations, inv)
	}
}

func (r *Reconciler) updateInvestigations(p *Patient, updates []InvestigationUpdate, now time.Time) {
	for _, u := range updates {
		i := findInvestigation(p, u.ID)
		if i < 0 {
			continue
		}
		inv := &p.Investigations[i]
		inv.LabValues = append(inv.LabValues, cloneLabValues(u.LabValues)...)
		if u.Summary != nil {
			inv.Summary = cloneStrPtr(u.Summary)
		}
		inv.LastUpdatedAt = now
	}
}

func (r *Reconciler) addTasks(p *Patient, tasks []Task, now time.Time) {
	for _, t := range tasks {
		if t.ID != "" && findTask(p, t.ID) >= 0 {
			continue
		}
		t = cloneTask(t)
		if t.ID == "" {
			t.ID = r.newID("task")
		}
		if !validTaskStatuses[t.Status] {
			t.Status = TaskOpen
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Status == TaskDone {
			markDone(&t, now)
		}
		p.Tasks = append(p.Tasks, t)
	}
}

func (r *Reconciler) updateTasks(p *Patient, updates []TaskUpdate, now time.Time) {
	for _, u := range updates {
		i := findTask(p, u.ID)
		if i < 0 {
			continue
		}
		t := &p.Tasks[i]
		if u.Text != nil {
			t.Text = *u.Text
		}
		if u.Status != nil && validTaskStatuses[*u.Status] {
			t.Status = *u.Status
		}
		if t.Status == TaskDone {
			markDone(t, now)
		}
	}
}

func completeTasks(p *Patient, ids, texts []string, now time.Time) {
	for _, id := range ids {
		if i := findTask(p, id); i >= 0 {
			markDone(&p.Tasks[i], now)
		}
	}
	if len(texts) == 0 {
		return
	}
	wanted := make(map[string]bool, len(texts))
	for _, text := range texts {
		wanted[NormalizeText(text)] = true
	}
	for i := range p.Tasks {
		if wanted[NormalizeText(p.Tasks[i].Text)] {
			markDone(&p.Tasks[i], now)
		}
	}
}

// markDone sets the task done. CompletedAt is stamped only once.
func markDone(t *Task, now time.Time) {
	t.Status = TaskDone
	if t.CompletedAt == nil {
		stamp := now
		t.CompletedAt = &stamp
	}
}

func findIssue(p *Patient, id string) int {
	for i := range p.Issues {
		if p.Issues[i].ID == id {
			return i
		}
	}
	return -1
}

func findInvestigation(p *Patient, id string) int {
	for i := range p.Investigations {
		if p.Investigations[i].ID == id {
			return i
		}
	}
	return -1
}

func findTask(p *Patient, id string) int {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}
