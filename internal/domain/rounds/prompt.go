package rounds

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt is the pair of strings handed to the Completer.
type Prompt struct {
	System string
	User   string
}

const wardRoundSystemPrompt = `You are a ward-round assistant for a hospital medical team.
Convert the clinician's words into a structured update for the patient below.
Reply with a single JSON object and nothing else:
{
  "assistant_message": "<one short reply or clarifying question>",
  "human_summary": ["<one line per change>"],
  "diff": {
    "issues_to_add": [{"title": "", "status": "open", "subpoints": [{"type": "note", "text": ""}]}],
    "issue_updates": [{"id": "", "status": "open|resolved", "subpoints": []}],
    "investigations_to_add": [{"type": "lab|imaging|procedure|other", "name": "", "lab_values": [{"date": "", "value": 0, "units": ""}], "summary": ""}],
    "investigation_updates": [{"id": "", "lab_values": [], "summary": ""}],
    "tasks_to_add": [{"text": ""}],
    "task_updates": [{"id": "", "text": "", "status": "open|done"}],
    "task_ids_completed": [],
    "task_texts_completed": [],
    "expected_discharge_date": null,
    "admission_flags": {},
    "checklist_skips": [{"item_id": "", "condition": "", "reason": ""}]
  }
}
Only include fields that change. Refer to existing items by id. Never repeat
changes already listed under PENDING.`

const dictationSystemPrompt = `You are a clinical scribe. The clinician is dictating a
ward-round note for the patient below. Extract every change as a structured
update. Ask no questions unless the dictation is contradictory.
` + "Use the same JSON reply format as a ward round."

// BuildTurnPrompt renders the prompt for one turn. The patient snapshot,
// the pending diff and the bounded history are embedded in the user prompt.
func BuildTurnPrompt(s *Session, p *Patient, userInput string) Prompt {
	system := wardRoundSystemPrompt
	if s != nil && s.Mode == ModeDictation {
		system = dictationSystemPrompt + "\n\n" + wardRoundSystemPrompt
	}

	var b strings.Builder
	if p != nil {
		writePatientSnapshot(&b, p)
	}
	if s != nil {
		if !IsEmpty(s.PendingDiff) {
			b.WriteString("\nPENDING:\n")
			b.WriteString(compactJSON(s.PendingDiff))
			b.WriteString("\n")
		}
		if len(s.History) > 0 {
			b.WriteString("\nCONVERSATION:\n")
			for _, m := range s.History {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
		}
	}
	b.WriteString("\nCLINICIAN:\n")
	b.WriteString(strings.TrimSpace(userInput))
	return Prompt{System: system, User: b.String()}
}

func writePatientSnapshot(b *strings.Builder, p *Patient) {
	fmt.Fprintf(b, "PATIENT: %s", p.Name)
	if p.Bed != "" {
		fmt.Fprintf(b, " (bed %s)", p.Bed)
	}
	b.WriteString("\n")
	if p.OneLiner != "" {
		fmt.Fprintf(b, "SUMMARY: %s\n", p.OneLiner)
	}
	if p.ExpectedDischargeDate != nil {
		fmt.Fprintf(b, "EXPECTED DISCHARGE: %s\n", *p.ExpectedDischargeDate)
	}

	if open := p.OpenIssues(); len(open) > 0 {
		b.WriteString("ISSUES:\n")
		for _, is := range open {
			fmt.Fprintf(b, "- [%s] %s\n", is.ID, is.Title)
			for _, sp := range is.Subpoints {
				fmt.Fprintf(b, "    * %s\n", sp.Text)
			}
		}
	}
	if len(p.Investigations) > 0 {
		b.WriteString("INVESTIGATIONS:\n")
		for _, inv := range p.Investigations {
			fmt.Fprintf(b, "- [%s] %s (%s)", inv.ID, inv.Name, inv.Type)
			if n := len(inv.LabValues); n > 0 {
				lv := inv.LabValues[n-1]
				fmt.Fprintf(b, " latest %g %s on %s", lv.Value, lv.Units, lv.Date)
			}
			if inv.Summary != nil {
				fmt.Fprintf(b, ": %s", *inv.Summary)
			}
			b.WriteString("\n")
		}
	}
	if open := p.OpenTasks(); len(open) > 0 {
		b.WriteString("OPEN TASKS:\n")
		for _, t := range open {
			fmt.Fprintf(b, "- [%s] %s\n", t.ID, t.Text)
		}
	}
}

func compactJSON(d WardUpdateDiff) string {
	raw, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
