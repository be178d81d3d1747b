package rounds

import (
	"encoding/json"
	"fmt"
)

// encodeDocument serializes the patient without its audit log, which the
// stores keep in their own table.
func encodeDocument(p *Patient) (string, error) {
	doc := *p
	doc.WardEntries = nil
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode patient %s: %w", p.ID, err)
	}
	return string(raw), nil
}

func decodeDocument(raw []byte, version int, entries []WardEntry) (*Patient, error) {
	var p Patient
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode patient document: %w", err)
	}
	p.Version = version
	p.WardEntries = entries
	return ClonePatient(&p), nil
}

func encodeEntryDiff(e *WardEntry) (string, error) {
	raw, err := json.Marshal(e.Diff)
	if err != nil {
		return "", fmt.Errorf("encode ward entry %s: %w", e.ID, err)
	}
	return string(raw), nil
}
