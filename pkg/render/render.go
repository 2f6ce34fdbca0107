// Package render turns chat message text into ordered display segments.
//
// Complex payloads are scanned for triple-backtick fences and split into
// alternating prose and code segments. Plain payloads are a single prose
// segment. Rendering has no side effects; presenters decide how a segment
// is drawn.
package render

import (
	"html"
	"regexp"
	"strings"
)

const FenceMarker = "```"

// fencePattern matches an opening fence: the marker, an optional language
// tag and the newline that ends the fence line. A closing fence is only a
// split point when it is itself followed by a newline.
var fencePattern = regexp.MustCompile("```(\\w+)?\n")

type PayloadKind string

const (
	PayloadPlain   PayloadKind = "plain"
	PayloadComplex PayloadKind = "complex"
)

// Payload is text tagged with how it must be scanned.
type Payload struct {
	Kind PayloadKind
	Text string
}

func Plain(text string) Payload   { return Payload{Kind: PayloadPlain, Text: text} }
func Complex(text string) Payload { return Payload{Kind: PayloadComplex, Text: text} }

type SegmentKind string

const (
	KindProse SegmentKind = "prose"
	KindCode  SegmentKind = "code"
)

type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Content string      `json:"content"`
	// Language is the tag of the fence that opened a code segment, if any.
	Language string `json:"language,omitempty"`
}

// Render splits a payload into segments in top-to-bottom order.
func Render(p Payload) []Segment {
	if p.Kind != PayloadComplex || !strings.Contains(p.Text, FenceMarker) {
		return []Segment{{Kind: KindProse, Content: p.Text}}
	}

	matches := fencePattern.FindAllStringSubmatchIndex(p.Text, -1)
	segments := make([]Segment, 0, len(matches)+1)

	start := 0
	for i := 0; i <= len(matches); i++ {
		end := len(p.Text)
		if i < len(matches) {
			end = matches[i][0]
		}
		chunk := strings.TrimSpace(p.Text[start:end])

		if i%2 == 0 {
			if chunk != "" {
				segments = append(segments, Segment{Kind: KindProse, Content: chunk})
			}
		} else {
			segments = append(segments, Segment{
				Kind:     KindCode,
				Content:  chunk,
				Language: languageAt(p.Text, matches[i-1]),
			})
		}

		if i < len(matches) {
			start = matches[i][1]
		}
	}
	return segments
}

func languageAt(text string, match []int) string {
	if len(match) < 4 || match[2] < 0 {
		return ""
	}
	return text[match[2]:match[3]]
}

// HTML returns the segment as markup. Prose newlines become <br>; code is
// wrapped in pre/code and kept verbatim.
func (s Segment) HTML() string {
	escaped := html.EscapeString(s.Content)
	if s.Kind == KindCode {
		return "<pre><code>" + escaped + "</code></pre>"
	}
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

// Text returns the segment content for plain-text displays.
func (s Segment) Text() string {
	return s.Content
}

// HTML renders a full segment list, one block per segment.
func HTML(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Kind == KindProse {
			b.WriteString(`<div class="text-part">`)
			b.WriteString(s.HTML())
			b.WriteString(`</div>`)
			continue
		}
		b.WriteString(s.HTML())
	}
	return b.String()
}
