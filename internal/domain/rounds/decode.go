package rounds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ShapeError reports a diff field that is present but has the wrong JSON
// shape, e.g. a string where a list was expected.
type ShapeError struct {
	Field string
	Want  string
	Got   string
}

func (e *ShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid diff: expected %s, got %s", e.Want, e.Got)
	}
	return fmt.Sprintf("invalid diff field %q: expected %s, got %s", e.Field, e.Want, e.Got)
}

var nullJSON = []byte("null")

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), nullJSON)
}

// DecodeDiff parses a JSON diff. Missing fields take their neutral value;
// fields with the wrong shape fail with *ShapeError. The result is
// normalized.
func DecodeDiff(raw []byte) (WardUpdateDiff, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return WardUpdateDiff{}, &ShapeError{Want: "object", Got: typeErr.Value}
		}
		return WardUpdateDiff{}, fmt.Errorf("decode diff: %w", err)
	}
	return decodeDiffFields(fields)
}

func decodeDiffFields(fields map[string]json.RawMessage) (WardUpdateDiff, error) {
	var d WardUpdateDiff
	decoders := []struct {
		name string
		dst  interface{}
	}{
		{"issues_to_add", &d.IssuesToAdd},
		{"issue_updates", &d.IssueUpdates},
		{"investigations_to_add", &d.InvestigationsToAdd},
		{"investigation_updates", &d.InvestigationUpdates},
		{"tasks_to_add", &d.TasksToAdd},
		{"task_updates", &d.TaskUpdates},
		{"task_ids_completed", &d.TaskIDsCompleted},
		{"task_texts_completed", &d.TaskTextsCompleted},
		{"checklist_skips", &d.ChecklistSkips},
		{"admission_flags", &d.AdmissionFlags},
		{"patient_id", &d.PatientID},
		{"admission_id", &d.AdmissionID},
	}
	for _, dec := range decoders {
		if err := decodeField(fields, dec.name, dec.dst); err != nil {
			return WardUpdateDiff{}, err
		}
	}

	if raw, ok := fields["expected_discharge_date"]; ok {
		if err := json.Unmarshal(raw, &d.ExpectedDischargeDate); err != nil {
			return WardUpdateDiff{}, shapeErrorFor("expected_discharge_date", err)
		}
	}
	return Normalize(&d), nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return shapeErrorFor(name, err)
	}
	return nil
}

func shapeErrorFor(name string, err error) error {
	var shapeErr *ShapeError
	if errors.As(err, &shapeErr) {
		if shapeErr.Field == "" {
			shapeErr.Field = name
		} else {
			shapeErr.Field = name + "." + shapeErr.Field
		}
		return shapeErr
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := name
		if typeErr.Field != "" {
			field = name + "." + typeErr.Field
		}
		return &ShapeError{Field: field, Want: typeErr.Type.String(), Got: typeErr.Value}
	}
	var parseErr *time.ParseError
	if errors.As(err, &parseErr) {
		return &ShapeError{Field: name, Want: "RFC 3339 timestamp", Got: fmt.Sprintf("%q", parseErr.Value)}
	}
	return &ShapeError{Field: name, Want: "valid JSON", Got: err.Error()}
}

// UnmarshalJSON decodes through DecodeDiff so stored ward entries keep the
// absent/cleared distinction of the discharge date.
func (d *WardUpdateDiff) UnmarshalJSON(data []byte) error {
	out, err := DecodeDiff(data)
	if err != nil {
		return err
	}
	*d = out
	return nil
}

type diffAlias WardUpdateDiff

// MarshalJSON omits an unset discharge date and writes null for a cleared one.
func (d WardUpdateDiff) MarshalJSON() ([]byte, error) {
	wire := struct {
		diffAlias
		ExpectedDischargeDate json.RawMessage `json:"expected_discharge_date,omitempty"`
	}{diffAlias: diffAlias(d)}
	if !d.ExpectedDischargeDate.IsUnset() {
		raw, err := json.Marshal(d.ExpectedDischargeDate)
		if err != nil {
			return nil, err
		}
		wire.ExpectedDischargeDate = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON maps null and "" to Cleared and any other string to Set.
// Absence is handled by the enclosing decoder, which leaves the zero
// (Unset) value in place.
func (u *DateUpdate) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*u = ClearDate()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &ShapeError{Want: "date string or null", Got: string(data)}
	}
	*u = SetDate(s)
	return nil
}

func (u DateUpdate) MarshalJSON() ([]byte, error) {
	if u.State != DateSet {
		return nullJSON, nil
	}
	return json.Marshal(u.Value)
}

// UnmarshalJSON accepts either {"flags": {...}, "updated_at": ...} or a
// flat {"flag_name": true} map.
func (f *FlagUpdate) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &ShapeError{Want: "object", Got: string(data)}
	}
	if rawFlags, ok := fields["flags"]; ok && bytes.HasPrefix(bytes.TrimSpace(rawFlags), []byte("{")) {
		var structured struct {
			Flags     map[string]bool `json:"flags"`
			UpdatedAt *time.Time      `json:"updated_at"`
		}
		if err := json.Unmarshal(data, &structured); err != nil {
			return err
		}
		f.Flags = structured.Flags
		f.UpdatedAt = structured.UpdatedAt
	} else {
		flat := make(map[string]bool, len(fields))
		for k, raw := range fields {
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return &ShapeError{Field: k, Want: "bool", Got: string(raw)}
			}
			flat[k] = v
		}
		f.Flags = flat
	}
	if f.Flags == nil {
		f.Flags = map[string]bool{}
	}
	return nil
}
