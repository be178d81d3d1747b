package rounds

import "strings"

// Normalize returns a complete, deep-copied diff. A nil input produces the
// empty diff. Every slice is materialized and collections are folded by
// their identity key using the same rules as Merge, so Normalize is
// idempotent and Merge(d, EmptyDiff()) equals Normalize(&d).
func Normalize(d *WardUpdateDiff) WardUpdateDiff {
	if d == nil {
		d = &WardUpdateDiff{}
	}
	return WardUpdateDiff{
		IssuesToAdd:           unionBy(issueKey, cloneIssue, d.IssuesToAdd),
		IssueUpdates:          foldIssueUpdates(d.IssueUpdates),
		InvestigationsToAdd:   unionBy(investigationKey, cloneInvestigation, d.InvestigationsToAdd),
		InvestigationUpdates:  foldInvestigationUpdates(d.InvestigationUpdates),
		TasksToAdd:            unionBy(taskKey, cloneTask, d.TasksToAdd),
		TaskUpdates:           foldTaskUpdates(d.TaskUpdates),
		TaskIDsCompleted:      unionIDs(d.TaskIDsCompleted),
		TaskTextsCompleted:    unionStrings(NormalizeText, d.TaskTextsCompleted),
		ExpectedDischargeDate: d.ExpectedDischargeDate,
		AdmissionFlags:        cloneFlagUpdate(d.AdmissionFlags),
		ChecklistSkips:        unionBy(SkipKey, cloneSkip, d.ChecklistSkips),
		PatientID:             d.PatientID,
		AdmissionID:           d.AdmissionID,
	}
}

// unionBy concatenates the lists, keeping one element per key. A later
// element replaces an earlier one in place, so the position of the first
// occurrence is stable.
func unionBy[T any](key func(T) string, clone func(T) T, lists ...[]T) []T {
	out := make([]T, 0)
	index := make(map[string]int)
	for _, list := range lists {
		for _, item := range list {
			k := key(item)
			if i, ok := index[k]; ok {
				out[i] = clone(item)
				continue
			}
			index[k] = len(out)
			out = append(out, clone(item))
		}
	}
	return out
}

// unionStrings is a set union under key. Blank entries are dropped and the
// first spelling seen is kept.
func unionStrings(key func(string) string, lists ...[]string) []string {
	out := make([]string, 0)
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, s := range list {
			k := key(s)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

// unionIDs is unionStrings over ids, storing each id trimmed.
func unionIDs(lists ...[]string) []string {
	trimmed := make([][]string, len(lists))
	for i, list := range lists {
		trimmed[i] = make([]string, len(list))
		for j, id := range list {
			trimmed[i][j] = strings.TrimSpace(id)
		}
	}
	return unionStrings(func(id string) string { return id }, trimmed...)
}

func foldIssueUpdates(lists ...[]IssueUpdate) []IssueUpdate {
	out := make([]IssueUpdate, 0)
	index := make(map[string]int)
	for _, list := range lists {
		for _, u := range list {
			i, ok := index[u.ID]
			if !ok {
				index[u.ID] = len(out)
				out = append(out, cloneIssueUpdate(u))
				continue
			}
			if u.Status != nil {
				out[i].Status = cloneStrPtr(u.Status)
			}
			out[i].Subpoints = append(out[i].Subpoints, cloneSubpoints(u.Subpoints)...)
		}
	}
	return out
}

func foldInvestigationUpdates(lists ...[]InvestigationUpdate) []InvestigationUpdate {
	out := make([]InvestigationUpdate, 0)
	index := make(map[string]int)
	for _, list := range lists {
		for _, u := range list {
			i, ok := index[u.ID]
			if !ok {
				index[u.ID] = len(out)
				out = append(out, cloneInvestigationUpdate(u))
				continue
			}
			out[i].LabValues = append(out[i].LabValues, cloneLabValues(u.LabValues)...)
			if u.Summary != nil {
				out[i].Summary = cloneStrPtr(u.Summary)
			}
		}
	}
	return out
}

func foldTaskUpdates(lists ...[]TaskUpdate) []TaskUpdate {
	out := make([]TaskUpdate, 0)
	index := make(map[string]int)
	for _, list := range lists {
		for _, u := range list {
			i, ok := index[u.ID]
			if !ok {
				index[u.ID] = len(out)
				out = append(out, cloneTaskUpdate(u))
				continue
			}
			if u.Text != nil {
				out[i].Text = cloneStrPtr(u.Text)
			}
			if u.Status != nil {
				out[i].Status = cloneStrPtr(u.Status)
			}
		}
	}
	return out
}
