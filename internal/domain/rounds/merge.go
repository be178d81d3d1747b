package rounds

import "time"

// Merger combines diffs turn over turn.
type Merger struct {
	now func() time.Time
}

// NewMerger creates a Merger. A nil clock defaults to time.Now.
func NewMerger(now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{now: now}
}

var defaultMerger = NewMerger(nil)

// Merge combines base and incoming using the wall clock.
func Merge(base, incoming WardUpdateDiff) WardUpdateDiff {
	return defaultMerger.Merge(base, incoming)
}

// Merge combines two diffs. Both are normalized first; the result shares no
// memory with either input.
//
// Additions and completion sets are keyed unions where a later entry wins.
// Updates are folded by id: scalar fields are overridden by incoming values
// when present, subpoints and lab values are appended base-first. The
// discharge date and admission flags are last-write-wins.
func (m *Merger) Merge(base, incoming WardUpdateDiff) WardUpdateDiff {
	b := Normalize(&base)
	in := Normalize(&incoming)

	out := WardUpdateDiff{
		IssuesToAdd:          unionBy(issueKey, cloneIssue, b.IssuesToAdd, in.IssuesToAdd),
		IssueUpdates:         foldIssueUpdates(b.IssueUpdates, in.IssueUpdates),
		InvestigationsToAdd:  unionBy(investigationKey, cloneInvestigation, b.InvestigationsToAdd, in.InvestigationsToAdd),
		InvestigationUpdates: foldInvestigationUpdates(b.InvestigationUpdates, in.InvestigationUpdates),
		TasksToAdd:           unionBy(taskKey, cloneTask, b.TasksToAdd, in.TasksToAdd),
		TaskUpdates:          foldTaskUpdates(b.TaskUpdates, in.TaskUpdates),
		TaskIDsCompleted:     unionIDs(b.TaskIDsCompleted, in.TaskIDsCompleted),
		TaskTextsCompleted:   unionStrings(NormalizeText, b.TaskTextsCompleted, in.TaskTextsCompleted),
		ChecklistSkips:       unionBy(SkipKey, cloneSkip, b.ChecklistSkips, in.ChecklistSkips),
		PatientID:            b.PatientID,
		AdmissionID:          b.AdmissionID,
	}

	out.ExpectedDischargeDate = b.ExpectedDischargeDate
	if !in.ExpectedDischargeDate.IsUnset() {
		out.ExpectedDischargeDate = in.ExpectedDischargeDate
	}

	out.AdmissionFlags = m.mergeFlags(b.AdmissionFlags, in.AdmissionFlags)

	if in.PatientID != "" {
		out.PatientID = in.PatientID
	}
	if in.AdmissionID != "" {
		out.AdmissionID = in.AdmissionID
	}
	return out
}

// mergeFlags is a shallow map merge with incoming keys winning. The
// timestamp is only restamped when both sides carry flags; a one-sided
// update is passed through unchanged.
func (m *Merger) mergeFlags(base, incoming *FlagUpdate) *FlagUpdate {
	switch {
	case base == nil && incoming == nil:
		return nil
	case base == nil:
		return cloneFlagUpdate(incoming)
	case incoming == nil:
		return cloneFlagUpdate(base)
	}
	flags := cloneFlagMap(base.Flags)
	for k, v := range incoming.Flags {
		flags[k] = v
	}
	now := m.now().UTC()
	return &FlagUpdate{Flags: flags, UpdatedAt: &now}
}

// MergeAll folds diffs left to right.
func (m *Merger) MergeAll(diffs ...WardUpdateDiff) WardUpdateDiff {
	acc := EmptyDiff()
	for _, d := range diffs {
		acc = m.Merge(acc, d)
	}
	return acc
}
