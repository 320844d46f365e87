// Package coach implements the coaching conversation pipeline: insight
// marker handling, prompt assembly and the streamed reply flow.
package coach

import (
	"strings"
)

// Insight markers look like "[INSIGHT: <payload>]". The model embeds them in
// replies to flag something worth remembering about the user.
const (
	markerOpen  = "[INSIGHT:"
	markerClose = ']'
)

// reduce scans text left to right and removes every complete marker as soon
// as its closing bracket arrives. A marker is the leftmost opening delimiter
// after the last kept "]" up to the next "]". Markers that only form once an
// inner marker is gone are removed too, so the result never contains a
// complete marker.
func reduce(text string) string {
	out := make([]byte, 0, len(text))
	lastClose := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != markerClose {
			out = append(out, c)
			continue
		}
		if p := strings.Index(string(out[lastClose+1:]), markerOpen); p >= 0 {
			out = out[:lastClose+1+p]
			continue
		}
		out = append(out, c)
		lastClose = len(out) - 1
	}
	return string(out)
}

// ExtractInsights returns the trimmed payloads of the non-overlapping markers
// in text, in order of appearance. Each marker runs from an opening delimiter
// to the next "]". Blank payloads are skipped. An opening delimiter that is
// never closed ends the scan.
func ExtractInsights(text string) []string {
	var insights []string
	for {
		start := strings.Index(text, markerOpen)
		if start < 0 {
			return insights
		}
		text = text[start+len(markerOpen):]
		end := strings.IndexByte(text, markerClose)
		if end < 0 {
			return insights
		}
		if insight := strings.TrimSpace(text[:end]); insight != "" {
			insights = append(insights, insight)
		}
		text = text[end+1:]
	}
}

// StripMarkers removes every complete marker from text and trims the result.
// Unclosed markers are left as literal text.
func StripMarkers(text string) string {
	return strings.TrimSpace(reduce(text))
}

// resolvedLen returns the length of the longest prefix of reduced text that
// can no longer change as more raw text is appended. Everything from the
// leftmost pending opening delimiter is unresolved, and so is any trailing
// run of partial delimiters that could complete into one.
func resolvedLen(reduced string) int {
	cut := len(reduced)
	lastClose := strings.LastIndexByte(reduced, markerClose)
	if p := strings.Index(reduced[lastClose+1:], markerOpen); p >= 0 {
		cut = lastClose + 1 + p
	}
	for {
		n := partialOpenerSuffix(reduced[:cut])
		if n == 0 {
			return cut
		}
		cut -= n
	}
}

// partialOpenerSuffix returns the length of the longest suffix of s that is a
// proper prefix of the opening delimiter.
func partialOpenerSuffix(s string) int {
	for n := min(len(markerOpen)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, markerOpen[:n]) {
			return n
		}
	}
	return 0
}
