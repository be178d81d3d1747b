package rounds

import "strings"

// NormalizeText canonicalizes free text for fuzzy equality: surrounding
// whitespace is trimmed, inner whitespace runs collapse to one space and
// the result is lower-cased. Punctuation is kept, so "BNP." and "BNP" differ.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TextMatches reports whether a and b are equal after NormalizeText.
func TextMatches(a, b string) bool {
	return NormalizeText(a) == NormalizeText(b)
}

// SkipKey is the composite identity of a checklist skip:
// "<condition or base>::<item id>".
func SkipKey(s ChecklistSkip) string {
	cond := strings.TrimSpace(s.Condition)
	if cond == "" {
		cond = "base"
	}
	return cond + "::" + strings.TrimSpace(s.ItemID)
}

func issueKey(is Issue) string {
	if is.ID != "" {
		return "id:" + is.ID
	}
	return "title:" + NormalizeText(is.Title)
}

func investigationKey(inv Investigation) string {
	if inv.ID != "" {
		return "id:" + inv.ID
	}
	return "name:" + NormalizeText(inv.Name)
}

func taskKey(t Task) string {
	if t.ID != "" {
		return "id:" + t.ID
	}
	return "text:" + NormalizeText(t.Text)
}
