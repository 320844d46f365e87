package coach

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// EventKind distinguishes the events of a filtered reply stream.
type EventKind int

const (
	// EventDelta carries a newly revealed piece of cleaned text.
	EventDelta EventKind = iota
	// EventDone marks normal completion. Nothing follows it.
	EventDone
	// EventError marks abnormal termination. Nothing follows it.
	EventError
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one element of a filtered reply stream.
type StreamEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// MarkerFilter turns raw model output, delivered chunk by chunk, into cleaned
// fragments that never expose insight marker syntax.
//
// Each Push reduces the whole buffer again, cuts it at the first position a
// later chunk could still rewrite and returns what was not emitted before.
// This is quadratic in the reply length, which is fine for coaching replies
// of a few hundred characters. A filter is owned by a single stream and is
// not safe for concurrent use.
type MarkerFilter struct {
	raw     strings.Builder
	shown   string
	emitted int
}

// NewMarkerFilter returns an empty filter.
func NewMarkerFilter() *MarkerFilter {
	return &MarkerFilter{}
}

// Push appends a raw chunk and returns the newly revealed cleaned text,
// which may be empty while a marker is still open.
func (f *MarkerFilter) Push(chunk string) string {
	f.raw.WriteString(chunk)
	reduced := reduce(f.raw.String())
	cut := resolvedLen(reduced)
	// Hold back a rune split across chunks.
	for cut > 0 && !utf8.FullRuneInString(reduced[lastRuneStart(reduced[:cut]):cut]) {
		cut = lastRuneStart(reduced[:cut])
	}
	return f.reveal(strings.TrimSpace(reduced[:cut]))
}

// Flush resolves the whole buffer, treating any unclosed marker as literal
// text, and returns the remaining cleaned text.
func (f *MarkerFilter) Flush() string {
	return f.reveal(StripMarkers(f.raw.String()))
}

// Raw returns everything pushed so far.
func (f *MarkerFilter) Raw() string {
	return f.raw.String()
}

// Cleaned returns the cleaned form of everything pushed so far.
func (f *MarkerFilter) Cleaned() string {
	return StripMarkers(f.raw.String())
}

// Emitted returns the cleaned text revealed so far. Unlike Cleaned it never
// includes text held back behind an unresolved marker.
func (f *MarkerFilter) Emitted() string {
	return f.shown
}

func (f *MarkerFilter) reveal(cleaned string) string {
	if len(cleaned) <= f.emitted {
		return ""
	}
	fragment := cleaned[f.emitted:]
	f.emitted = len(cleaned)
	f.shown = cleaned
	return fragment
}

func lastRuneStart(s string) int {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			return i
		}
	}
	return max(len(s)-1, 0)
}

// Filter wraps an upstream chunk sequence. It yields EventDelta for every
// non-empty cleaned fragment, then exactly one EventDone or EventError.
// Iteration stops early if the consumer stops.
func (f *MarkerFilter) Filter(chunks iter.Seq2[string, error]) iter.Seq[StreamEvent] {
	return func(yield func(StreamEvent) bool) {
		for chunk, err := range chunks {
			if err != nil {
				yield(StreamEvent{Kind: EventError, Err: err})
				return
			}
			if chunk == "" {
				continue
			}
			if fragment := f.Push(chunk); fragment != "" {
				if !yield(StreamEvent{Kind: EventDelta, Text: fragment}) {
					return
				}
			}
		}
		if fragment := f.Flush(); fragment != "" {
			if !yield(StreamEvent{Kind: EventDelta, Text: fragment}) {
				return
			}
		}
		yield(StreamEvent{Kind: EventDone})
	}
}
