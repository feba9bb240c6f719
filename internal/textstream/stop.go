package textstream

import "strings"

// DefaultMarkers are the ChatML turn delimiters. Neither may reach a consumer.
var DefaultMarkers = []string{"<|im_end|>", "<|im_start|>"}

// minTailBytes bounds the rolling tail when every marker is short.
const minTailBytes = 50

// StopMatcher watches generated text for stop markers. Markers may arrive
// split over several token pieces, so the matcher keeps a bounded rolling tail
// of recent output and searches it on every Observe.
type StopMatcher struct {
	markers []string
	longest int
	limit   int
	tail    string
}

// NewStopMatcher returns a matcher for markers in declaration order. Empty
// strings are ignored; a matcher without markers never matches.
func NewStopMatcher(markers ...string) *StopMatcher {
	m := &StopMatcher{}
	for _, mk := range markers {
		if mk == "" {
			continue
		}
		m.markers = append(m.markers, mk)
		if len(mk) > m.longest {
			m.longest = len(mk)
		}
	}
	m.limit = max(minTailBytes, 2*m.longest)
	return m
}

// Markers returns a copy of the configured markers.
func (m *StopMatcher) Markers() []string {
	return append([]string(nil), m.markers...)
}

// Observe appends piece to the rolling tail and reports the first configured
// marker, in declaration order, that now occurs in it. The search runs before
// the tail is trimmed so a long piece cannot push a marker out unseen.
func (m *StopMatcher) Observe(piece string) (string, bool) {
	if len(m.markers) == 0 {
		return "", false
	}
	window := m.tail + piece
	if len(window) > m.limit {
		m.tail = window[len(window)-m.limit:]
	} else {
		m.tail = window
	}
	for _, mk := range m.markers {
		if strings.Contains(window, mk) {
			return mk, true
		}
	}
	return "", false
}

// Reset clears the rolling tail.
func (m *StopMatcher) Reset() { m.tail = "" }

// Cut cuts text at the earliest complete occurrence of any marker, then
// removes the one dangling marker prefix PartialSuffix reports at the end (a
// marker whose opening fragment arrived but whose completion never did).
// Text before that prefix is kept even when it also looks like a fragment:
// "x<<" becomes "x<".
func (m *StopMatcher) Cut(text string) string {
	cut := len(text)
	for _, mk := range m.markers {
		if i := strings.Index(text, mk); i >= 0 && i < cut {
			cut = i
		}
	}
	text = text[:cut]
	return text[:len(text)-m.PartialSuffix(text)]
}

// PartialSuffix returns the length of the longest suffix of text that is a
// proper, non-empty prefix of some marker. Such a suffix may still grow into
// a full marker and must not be released yet.
func (m *StopMatcher) PartialSuffix(text string) int {
	n := min(len(text), m.longest-1)
	for ; n > 0; n-- {
		suffix := text[len(text)-n:]
		for _, mk := range m.markers {
			if len(mk) > n && strings.HasPrefix(mk, suffix) {
				return n
			}
		}
	}
	return 0
}
