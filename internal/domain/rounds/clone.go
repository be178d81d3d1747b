package rounds

// ClonePatient returns a deep copy of p. A nil patient clones to an empty
// active patient.
func ClonePatient(p *Patient) *Patient {
	if p == nil {
		return &Patient{
			Status:         PatientActive,
			Tags:           []string{},
			Issues:         []Issue{},
			Investigations: []Investigation{},
			Tasks:          []Task{},
			AdmissionFlags: AdmissionFlags{Flags: map[string]bool{}},
			ChecklistSkips: []ChecklistSkip{},
			IntakeNotes:    []IntakeNote{},
			WardEntries:    []WardEntry{},
		}
	}
	out := *p
	out.Tags = cloneStrings(p.Tags)
	out.ExpectedDischargeDate = cloneStrPtr(p.ExpectedDischargeDate)

	out.Issues = make([]Issue, len(p.Issues))
	for i, is := range p.Issues {
		out.Issues[i] = cloneIssue(is)
	}
	out.Investigations = make([]Investigation, len(p.Investigations))
	for i, inv := range p.Investigations {
		out.Investigations[i] = cloneInvestigation(inv)
	}
	out.Tasks = make([]Task, len(p.Tasks))
	for i, t := range p.Tasks {
		out.Tasks[i] = cloneTask(t)
	}

	out.AdmissionFlags = AdmissionFlags{
		Flags:     cloneFlagMap(p.AdmissionFlags.Flags),
		UpdatedAt: cloneTimePtr(p.AdmissionFlags.UpdatedAt),
	}
	out.ChecklistSkips = make([]ChecklistSkip, len(p.ChecklistSkips))
	copy(out.ChecklistSkips, p.ChecklistSkips)
	out.IntakeNotes = make([]IntakeNote, len(p.IntakeNotes))
	copy(out.IntakeNotes, p.IntakeNotes)

	out.WardEntries = make([]WardEntry, len(p.WardEntries))
	for i, e := range p.WardEntries {
		e.Diff = e.Diff.Clone()
		out.WardEntries[i] = e
	}
	return &out
}
