package trigger

import "strings"

// DefaultPhrases are the phrases that signal a speaker is searching for a word.
var DefaultPhrases = []string{
	"can't remember",
	"forgot the name",
	"what is it called",
	"that thing",
	"um",
	"uh",
}

// Detector reports whether a transcript contains any configured trigger phrase.
// Matching is a case-insensitive plain substring test, so "um" also matches
// inside "album".
type Detector struct {
	phrases []string
}

func New(phrases []string) *Detector {
	seen := make(map[string]struct{}, len(phrases))
	normalized := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return &Detector{phrases: normalized}
}

func (d *Detector) Detect(transcript string) bool {
	_, ok := d.Match(transcript)
	return ok
}

// Match returns the first configured phrase found in transcript.
func (d *Detector) Match(transcript string) (string, bool) {
	if transcript == "" {
		return "", false
	}
	lowered := strings.ToLower(transcript)
	for _, phrase := range d.phrases {
		if strings.Contains(lowered, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func (d *Detector) Phrases() []string {
	out := make([]string, len(d.phrases))
	copy(out, d.phrases)
	return out
}
