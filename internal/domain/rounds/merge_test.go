package rounds

import (
	"reflect"
	"testing"
	"time"
)

func newTestMerger() *Merger {
	return NewMerger(fixedClock(testNow))
}

func TestMerge_EmptyIsIdentity(t *testing.T) {
	m := newTestMerger()
	for name, d := range sampleDiffs() {
		t.Run(name, func(t *testing.T) {
			want := Normalize(&d)
			if got := m.Merge(d, EmptyDiff()); !reflect.DeepEqual(got, want) {
				t.Errorf("Merge(d, empty) != Normalize(d)\ngot:  %+v\nwant: %+v", got, want)
			}
			if got := m.Merge(EmptyDiff(), d); !reflect.DeepEqual(got, want) {
				t.Errorf("Merge(empty, d) != Normalize(d)\ngot:  %+v\nwant: %+v", got, want)
			}
		})
	}
}

func TestMerge_AssociativeOnCollections(t *testing.T) {
	m := newTestMerger()
	a := WardUpdateDiff{
		IssuesToAdd:      []Issue{{Title: "AF"}},
		TaskIDsCompleted: []string{"task-1"},
		IssueUpdates:     []IssueUpdate{{ID: "issue-1", Subpoints: []Subpoint{{Text: "a"}}}},
		ChecklistSkips:   []ChecklistSkip{{ItemID: "falls-risk", Reason: "a"}},
	}
	b := WardUpdateDiff{
		IssuesToAdd:        []Issue{{Title: "af", Subpoints: []Subpoint{{Text: "new onset"}}}, {Title: "CAP"}},
		TaskTextsCompleted: []string{"chase echo"},
		IssueUpdates:       []IssueUpdate{{ID: "issue-1", Subpoints: []Subpoint{{Text: "b"}}}},
	}
	c := WardUpdateDiff{
		TasksToAdd:       []Task{{Text: "repeat ECG"}},
		TaskIDsCompleted: []string{"task-2", "task-1"},
		IssueUpdates:     []IssueUpdate{{ID: "issue-1", Subpoints: []Subpoint{{Text: "c"}}}},
		ChecklistSkips:   []ChecklistSkip{{ItemID: "falls-risk", Reason: "c"}},
	}

	left := m.Merge(m.Merge(a, b), c)
	right := m.Merge(a, m.Merge(b, c))

	if !reflect.DeepEqual(left.IssuesToAdd, right.IssuesToAdd) {
		t.Errorf("issues differ:\n%+v\n%+v", left.IssuesToAdd, right.IssuesToAdd)
	}
	if !reflect.DeepEqual(left.TasksToAdd, right.TasksToAdd) {
		t.Errorf("tasks differ:\n%+v\n%+v", left.TasksToAdd, right.TasksToAdd)
	}
	if !reflect.DeepEqual(left.TaskIDsCompleted, right.TaskIDsCompleted) {
		t.Errorf("completed ids differ: %v vs %v", left.TaskIDsCompleted, right.TaskIDsCompleted)
	}
	if !reflect.DeepEqual(left.TaskTextsCompleted, right.TaskTextsCompleted) {
		t.Errorf("completed texts differ: %v vs %v", left.TaskTextsCompleted, right.TaskTextsCompleted)
	}
	if !reflect.DeepEqual(left.IssueUpdates, right.IssueUpdates) {
		t.Errorf("issue updates differ:\n%+v\n%+v", left.IssueUpdates, right.IssueUpdates)
	}
	if !reflect.DeepEqual(left.ChecklistSkips, right.ChecklistSkips) {
		t.Errorf("skips differ:\n%+v\n%+v", left.ChecklistSkips, right.ChecklistSkips)
	}
}

func TestMerge_AssociativeOnInvestigationsAndUpdates(t *testing.T) {
	m := newTestMerger()
	a := WardUpdateDiff{
		InvestigationsToAdd:  []Investigation{{Type: InvestigationLab, Name: "Troponin", LabValues: []LabValue{{Date: "2026-05-03", Value: 12, Units: "ng/L"}}}},
		InvestigationUpdates: []InvestigationUpdate{{ID: "inv-1", LabValues: []LabValue{{Date: "2026-05-02", Value: 140, Units: "mmol/L"}}}},
		TaskUpdates:          []TaskUpdate{{ID: "task-1", Text: strPtr("chase echo report")}},
	}
	b := WardUpdateDiff{
		InvestigationsToAdd:  []Investigation{{Type: InvestigationImaging, Name: "CXR", Summary: strPtr("no consolidation")}, {Type: InvestigationLab, Name: "troponin", LabValues: []LabValue{{Date: "2026-05-04", Value: 18, Units: "ng/L"}}}},
		InvestigationUpdates: []InvestigationUpdate{{ID: "inv-1", LabValues: []LabValue{{Date: "2026-05-03", Value: 138, Units: "mmol/L"}}, Summary: strPtr("sodium falling")}},
		TaskUpdates:          []TaskUpdate{{ID: "task-1", Status: strPtr(TaskDone)}, {ID: "task-2", Status: strPtr(TaskOpen)}},
	}
	c := WardUpdateDiff{
		InvestigationsToAdd:  []Investigation{{Type: InvestigationImaging, Name: "cxr", Summary: strPtr("small effusion")}},
		InvestigationUpdates: []InvestigationUpdate{{ID: "inv-2", LabValues: []LabValue{{Date: "2026-05-04", Value: 4.1, Units: "mmol/L"}}}, {ID: "inv-1", LabValues: []LabValue{{Date: "2026-05-04", Value: 135, Units: "mmol/L"}}}},
		TaskUpdates:          []TaskUpdate{{ID: "task-1", Text: strPtr("echo reviewed")}},
	}

	left := m.Merge(m.Merge(a, b), c)
	right := m.Merge(a, m.Merge(b, c))

	if !reflect.DeepEqual(left.InvestigationsToAdd, right.InvestigationsToAdd) {
		t.Errorf("investigations differ:\n%+v\n%+v", left.InvestigationsToAdd, right.InvestigationsToAdd)
	}
	if !reflect.DeepEqual(left.InvestigationUpdates, right.InvestigationUpdates) {
		t.Errorf("investigation updates differ:\n%+v\n%+v", left.InvestigationUpdates, right.InvestigationUpdates)
	}
	if !reflect.DeepEqual(left.TaskUpdates, right.TaskUpdates) {
		t.Errorf("task updates differ:\n%+v\n%+v", left.TaskUpdates, right.TaskUpdates)
	}

	if n := len(left.InvestigationsToAdd); n != 2 {
		t.Fatalf("expected 2 investigations, got %d", n)
	}
	if len(left.InvestigationUpdates) != 2 || len(left.InvestigationUpdates[0].LabValues) != 3 {
		t.Errorf("expected inv-1 lab values appended in order, got %+v", left.InvestigationUpdates)
	}
	if tu := left.TaskUpdates[0]; *tu.Text != "echo reviewed" || *tu.Status != TaskDone {
		t.Errorf("expected last writer per task field, got text=%v status=%v", *tu.Text, *tu.Status)
	}
}

func TestMerge_SubpointsAppendInOrder(t *testing.T) {
	m := newTestMerger()
	a := WardUpdateDiff{IssueUpdates: []IssueUpdate{{ID: "issue-1", Subpoints: []Subpoint{{Text: "a"}}}}}
	b := WardUpdateDiff{IssueUpdates: []IssueUpdate{{ID: "issue-1", Subpoints: []Subpoint{{Text: "b"}}}}}

	texts := func(d WardUpdateDiff) []string {
		var out []string
		for _, sp := range d.IssueUpdates[0].Subpoints {
			out = append(out, sp.Text)
		}
		return out
	}
	if got := texts(m.Merge(a, b)); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
	if got := texts(m.Merge(b, a)); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("expected [b a], got %v", got)
	}
}

func TestMerge_UpdateScalarsOverride(t *testing.T) {
	m := newTestMerger()
	resolved, open := IssueResolved, IssueOpen
	first, second := "falling", "normalised"

	got := m.Merge(
		WardUpdateDiff{
			IssueUpdates:         []IssueUpdate{{ID: "issue-1", Status: &resolved}},
			InvestigationUpdates: []InvestigationUpdate{{ID: "inv-1", Summary: &first, LabValues: []LabValue{{Date: "2026-05-01", Value: 140}}}},
		},
		WardUpdateDiff{
			IssueUpdates:         []IssueUpdate{{ID: "issue-1", Status: &open}, {ID: "issue-2"}},
			InvestigationUpdates: []InvestigationUpdate{{ID: "inv-1", LabValues: []LabValue{{Date: "2026-05-02", Value: 135}}}, {ID: "inv-1", Summary: &second}},
		},
	)

	if len(got.IssueUpdates) != 2 || *got.IssueUpdates[0].Status != IssueOpen {
		t.Errorf("unexpected issue updates %+v", got.IssueUpdates)
	}
	if got.IssueUpdates[1].Status != nil {
		t.Errorf("expected absent status to stay nil, got %v", *got.IssueUpdates[1].Status)
	}
	if len(got.InvestigationUpdates) != 1 {
		t.Fatalf("expected updates folded by id, got %d", len(got.InvestigationUpdates))
	}
	inv := got.InvestigationUpdates[0]
	if len(inv.LabValues) != 2 || inv.LabValues[0].Value != 140 || inv.LabValues[1].Value != 135 {
		t.Errorf("expected lab values appended base-first, got %+v", inv.LabValues)
	}
	if inv.Summary == nil || *inv.Summary != second {
		t.Errorf("expected last summary to win, got %v", inv.Summary)
	}
}

func TestMerge_InvestigationDedupByName(t *testing.T) {
	m := newTestMerger()
	got := m.Merge(
		WardUpdateDiff{InvestigationsToAdd: []Investigation{{Name: "Troponin", LabValues: []LabValue{{Date: "2026-05-03", Value: 45}}}}},
		WardUpdateDiff{InvestigationsToAdd: []Investigation{{Name: "troponin", LabValues: []LabValue{{Date: "2026-05-04", Value: 60}}}}},
	)
	if len(got.InvestigationsToAdd) != 1 {
		t.Fatalf("expected one troponin, got %+v", got.InvestigationsToAdd)
	}
	if got.InvestigationsToAdd[0].LabValues[0].Value != 60 {
		t.Errorf("expected later troponin to win, got %+v", got.InvestigationsToAdd[0])
	}
}

func TestMerge_ChecklistSkipLastReasonWins(t *testing.T) {
	m := newTestMerger()
	got := m.MergeAll(
		WardUpdateDiff{ChecklistSkips: []ChecklistSkip{{ItemID: "beta-blocker-asked", Condition: "heart-failure", Reason: "hypotensive"}}},
		WardUpdateDiff{ChecklistSkips: []ChecklistSkip{{ItemID: "falls-risk", Reason: "bed bound"}}},
		WardUpdateDiff{ChecklistSkips: []ChecklistSkip{{ItemID: "beta-blocker-asked", Condition: "heart-failure", Reason: "bradycardic"}}},
	)
	if len(got.ChecklistSkips) != 2 {
		t.Fatalf("expected 2 skips, got %+v", got.ChecklistSkips)
	}
	if got.ChecklistSkips[0].Reason != "bradycardic" {
		t.Errorf("expected last reason to win at first position, got %+v", got.ChecklistSkips[0])
	}
	if SkipKey(got.ChecklistSkips[0]) != "heart-failure::beta-blocker-asked" {
		t.Errorf("unexpected key order %+v", got.ChecklistSkips)
	}
}

func TestMerge_DischargeDate(t *testing.T) {
	m := newTestMerger()
	tests := []struct {
		name           string
		base, incoming DateUpdate
		want           DateUpdate
	}{
		{"unset keeps base", SetDate("2026-05-10"), DateUpdate{}, SetDate("2026-05-10")},
		{"set overrides", SetDate("2026-05-10"), SetDate("2026-05-12"), SetDate("2026-05-12")},
		{"clear overrides", SetDate("2026-05-10"), ClearDate(), ClearDate()},
		{"set after clear", ClearDate(), SetDate("2026-05-12"), SetDate("2026-05-12")},
		{"both unset", DateUpdate{}, DateUpdate{}, DateUpdate{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Merge(WardUpdateDiff{ExpectedDischargeDate: tt.base}, WardUpdateDiff{ExpectedDischargeDate: tt.incoming})
			if got.ExpectedDischargeDate != tt.want {
				t.Errorf("got %+v, want %+v", got.ExpectedDischargeDate, tt.want)
			}
		})
	}
}

func TestMerge_AdmissionFlags(t *testing.T) {
	m := newTestMerger()
	earlier := testNow.Add(-time.Hour)

	oneSided := m.Merge(WardUpdateDiff{}, WardUpdateDiff{AdmissionFlags: &FlagUpdate{Flags: map[string]bool{"a": true}, UpdatedAt: &earlier}})
	if oneSided.AdmissionFlags == nil || !oneSided.AdmissionFlags.UpdatedAt.Equal(earlier) {
		t.Errorf("expected one-sided flags passed through, got %+v", oneSided.AdmissionFlags)
	}

	both := m.Merge(
		WardUpdateDiff{AdmissionFlags: &FlagUpdate{Flags: map[string]bool{"a": true, "b": true}, UpdatedAt: &earlier}},
		WardUpdateDiff{AdmissionFlags: &FlagUpdate{Flags: map[string]bool{"b": false, "c": true}}},
	)
	want := map[string]bool{"a": true, "b": false, "c": true}
	if !reflect.DeepEqual(both.AdmissionFlags.Flags, want) {
		t.Errorf("flags = %v, want %v", both.AdmissionFlags.Flags, want)
	}
	if both.AdmissionFlags.UpdatedAt == nil || !both.AdmissionFlags.UpdatedAt.Equal(testNow) {
		t.Errorf("expected restamp at merge time, got %v", both.AdmissionFlags.UpdatedAt)
	}

	if none := m.Merge(WardUpdateDiff{}, WardUpdateDiff{}); none.AdmissionFlags != nil {
		t.Errorf("expected nil flags, got %+v", none.AdmissionFlags)
	}
}

func TestMerge_PatientIDs(t *testing.T) {
	m := newTestMerger()
	got := m.Merge(WardUpdateDiff{PatientID: "patient-1", AdmissionID: "admission-1"}, WardUpdateDiff{AdmissionID: "admission-2"})
	if got.PatientID != "patient-1" || got.AdmissionID != "admission-2" {
		t.Errorf("unexpected ids %q %q", got.PatientID, got.AdmissionID)
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	m := newTestMerger()
	base := WardUpdateDiff{TasksToAdd: []Task{{Text: "order BNP"}}}
	out := m.Merge(base, WardUpdateDiff{})
	out.TasksToAdd[0].Text = "changed"
	if base.TasksToAdd[0].Text != "order BNP" {
		t.Error("merge result aliases its input")
	}
}
