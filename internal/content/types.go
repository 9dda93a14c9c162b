package content

import "strings"

// SegmentKind distinguishes prose from fenced code in a streamed message
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentCode
)

// Segment is one run of prose or one fenced code block
type Segment struct {
	Kind     SegmentKind
	Language string
	Body     string
	// Closed is false for a code block whose closing fence has not streamed in yet
	Closed bool
}

const fence = "```"

// ParseSegments splits text on ``` fences. Partial buffers are expected: an
// unterminated fence yields an open code segment rather than prose.
func ParseSegments(text string) []Segment {
	var (
		segments []Segment
		buf      strings.Builder
		current  = Segment{Kind: SegmentText}
	)

	flush := func() {
		current.Body = strings.TrimSuffix(buf.String(), "\n")
		if current.Kind == SegmentCode || strings.TrimSpace(current.Body) != "" {
			segments = append(segments, current)
		}
		buf.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fence) {
			buf.WriteString(line)
			continue
		}

		if current.Kind == SegmentText {
			flush()
			current = Segment{
				Kind:     SegmentCode,
				Language: strings.TrimSpace(strings.TrimPrefix(trimmed, fence)),
			}
			continue
		}

		current.Closed = true
		flush()
		current = Segment{Kind: SegmentText}
	}
	flush()

	return segments
}
