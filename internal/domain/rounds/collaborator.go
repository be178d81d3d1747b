package rounds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FallbackAssistantMessage is shown when the model reply carries no usable text.
const FallbackAssistantMessage = "Could you clarify?"

// Completer is the language-model collaborator.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TurnResult is the outcome of parsing a model reply. It is either a
// *ParsedTurn or a *FallbackTurn.
type TurnResult interface {
	turnResult()
	// Turn converts the result into a Turn ready for RecordTurn.
	Turn(userInput *string) Turn
}

// ParsedTurn is a structurally valid reply.
type ParsedTurn struct {
	Diff             WardUpdateDiff `json:"diff"`
	AssistantMessage string         `json:"assistant_message"`
	SummaryLines     []string       `json:"human_summary"`
}

// FallbackTurn is produced when the reply could not be decoded. It carries
// an empty diff and a message to show the clinician.
type FallbackTurn struct {
	AssistantMessage string `json:"assistant_message"`
	Raw              string `json:"-"`
	Reason           error  `json:"-"`
}

func (*ParsedTurn) turnResult()   {}
func (*FallbackTurn) turnResult() {}

func (t *ParsedTurn) Turn(userInput *string) Turn {
	d := t.Diff.Clone()
	return Turn{
		RawDiff:          &d,
		AssistantMessage: t.AssistantMessage,
		SummaryLines:     cloneStrings(t.SummaryLines),
		UserInput:        userInput,
	}
}

func (t *FallbackTurn) Turn(userInput *string) Turn {
	d := EmptyDiff()
	return Turn{
		RawDiff:          &d,
		AssistantMessage: t.AssistantMessage,
		SummaryLines:     []string{},
		UserInput:        userInput,
	}
}

// ParseTurnResponse decodes a model reply. The reply may be wrapped in a
// markdown fence or surrounded by prose; the outermost JSON object is used.
// The diff may sit under "diff" or at the top level. Anything that cannot
// be decoded yields a *FallbackTurn; this function never fails.
func ParseTurnResponse(raw string) TurnResult {
	body, ok := extractJSONObject(raw)
	if !ok {
		return newFallback(raw, fmt.Errorf("no JSON object in reply"))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return newFallback(raw, fmt.Errorf("decode reply: %w", err))
	}

	var (
		diff WardUpdateDiff
		err  error
	)
	if rawDiff, ok := fields["diff"]; ok && !isNull(rawDiff) {
		diff, err = DecodeDiff(rawDiff)
	} else {
		diff, err = decodeDiffFields(fields)
	}
	if err != nil {
		return newFallback(raw, err)
	}

	var message string
	if rawMsg, ok := fields["assistant_message"]; ok && !isNull(rawMsg) {
		if err := json.Unmarshal(rawMsg, &message); err != nil {
			return newFallback(raw, shapeErrorFor("assistant_message", err))
		}
	}

	summary, err := decodeSummary(fields["human_summary"])
	if err != nil {
		return newFallback(raw, err)
	}

	return &ParsedTurn{
		Diff:             diff,
		AssistantMessage: strings.TrimSpace(message),
		SummaryLines:     summary,
	}
}

// decodeSummary accepts a string (split on newlines) or a list of strings.
func decodeSummary(raw json.RawMessage) ([]string, error) {
	out := []string{}
	if isNull(raw) {
		return out, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, &ShapeError{Field: "human_summary", Want: "string or list of strings", Got: string(raw)}
		}
		lines = strings.Split(single, "\n")
	}
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-*•"))
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func newFallback(raw string, reason error) *FallbackTurn {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		msg = FallbackAssistantMessage
	}
	return &FallbackTurn{AssistantMessage: msg, Raw: raw, Reason: reason}
}

// extractJSONObject returns the span from the first '{' to the last '}'.
func extractJSONObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
