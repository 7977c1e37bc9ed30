package citations

import (
	"strings"
	"testing"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return NewParser(log)
}

func reassemble(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Content)
	}
	return b.String()
}

func TestParseSingleCitation(t *testing.T) {
	p := newTestParser(t)
	input := "See [Amazon Documentary at 10:15](videoId:abc-123-def-456:615) here."

	res := p.Parse(input)
	if len(res.Citations) != 1 {
		t.Fatalf("citations: want=1 got=%d", len(res.Citations))
	}
	c := res.Citations[0]
	if c.VideoID != "abc-123-def-456" {
		t.Fatalf("VideoID: want=%q got=%q", "abc-123-def-456", c.VideoID)
	}
	if c.VideoTitle != "Amazon Documentary" {
		t.Fatalf("VideoTitle: want=%q got=%q", "Amazon Documentary", c.VideoTitle)
	}
	if c.Timestamp != "10:15" {
		t.Fatalf("Timestamp: want=%q got=%q", "10:15", c.Timestamp)
	}
	if c.StartTime != 615 {
		t.Fatalf("StartTime: want=615 got=%v", c.StartTime)
	}
	if c.MatchIndex != len("See ") {
		t.Fatalf("MatchIndex: want=%d got=%d", len("See "), c.MatchIndex)
	}

	if len(res.Segments) != 3 {
		t.Fatalf("segments: want=3 got=%d", len(res.Segments))
	}
	if res.Segments[0].Type != SegmentText || res.Segments[0].Content != "See " {
		t.Fatalf("segment 0: got=%+v", res.Segments[0])
	}
	if res.Segments[1].Type != SegmentCitation {
		t.Fatalf("segment 1 type: want=citation got=%q", res.Segments[1].Type)
	}
	if res.Segments[2].Content != " here." {
		t.Fatalf("segment 2: got=%+v", res.Segments[2])
	}
	if got := reassemble(res.Segments); got != input {
		t.Fatalf("round trip: want=%q got=%q", input, got)
	}
}

func TestParseFractionalSeconds(t *testing.T) {
	p := newTestParser(t)
	res := p.Parse("[Clip at 0:07](videoId:xyz:7.25)")
	if len(res.Citations) != 1 {
		t.Fatalf("citations: want=1 got=%d", len(res.Citations))
	}
	if res.Citations[0].StartTime != 7.25 {
		t.Fatalf("StartTime: want=7.25 got=%v", res.Citations[0].StartTime)
	}
	if res.Citations[0].Timestamp != "0:07" {
		t.Fatalf("Timestamp: want=%q got=%q", "0:07", res.Citations[0].Timestamp)
	}
}

func TestParseMultipleCitations(t *testing.T) {
	p := newTestParser(t)
	input := "[A at 0:05](videoId:v1:5) middle [B at 1:30](videoId:v2:90)"

	res := p.Parse(input)
	if len(res.Citations) != 2 {
		t.Fatalf("citations: want=2 got=%d", len(res.Citations))
	}
	if res.Citations[0].ID != 1 || res.Citations[1].ID != 2 {
		t.Fatalf("ids: want=[1 2] got=[%d %d]", res.Citations[0].ID, res.Citations[1].ID)
	}
	if res.Citations[1].VideoID != "v2" || res.Citations[1].StartTime != 90 {
		t.Fatalf("second citation: got=%+v", res.Citations[1])
	}
	if got := reassemble(res.Segments); got != input {
		t.Fatalf("round trip: want=%q got=%q", input, got)
	}

	citationSegs := 0
	for _, s := range res.Segments {
		if s.Type == SegmentCitation {
			citationSegs++
		}
	}
	if citationSegs != len(res.Citations) {
		t.Fatalf("citation segments: want=%d got=%d", len(res.Citations), citationSegs)
	}
}

func TestParseTitleContainingAt(t *testing.T) {
	p := newTestParser(t)
	res := p.Parse("[Life at Sea at 3:05](videoId:sea-doc:185)")
	if len(res.Citations) != 1 {
		t.Fatalf("citations: want=1 got=%d", len(res.Citations))
	}
	if res.Citations[0].VideoTitle != "Life at Sea" {
		t.Fatalf("VideoTitle: want=%q got=%q", "Life at Sea", res.Citations[0].VideoTitle)
	}
	if res.Citations[0].Timestamp != "3:05" {
		t.Fatalf("Timestamp: want=%q got=%q", "3:05", res.Citations[0].Timestamp)
	}
}

func TestParseMalformedCandidatesSkipped(t *testing.T) {
	p := newTestParser(t)
	cases := []string{
		"[Broken at xx:yy](videoId:abc:615)",
		"[Broken at 1:05](videoId::615)",
		"[Broken at 1:05](videoId:abc:)",
		"[ at 1:05](videoId:abc:615)",
		"[Broken at 1:05](videoId:abc:61x5)",
	}
	for _, input := range cases {
		res := p.Parse(input)
		if len(res.Citations) != 0 {
			t.Fatalf("input %q: citations want=0 got=%d", input, len(res.Citations))
		}
		if got := reassemble(res.Segments); got != input {
			t.Fatalf("input %q: round trip got=%q", input, got)
		}
	}
}

func TestParsePlainBracketsIgnored(t *testing.T) {
	p := newTestParser(t)
	input := "array[0] and [citation needed] are not citations"

	res := p.Parse(input)
	if len(res.Citations) != 0 {
		t.Fatalf("citations: want=0 got=%d", len(res.Citations))
	}
	if len(res.Segments) != 1 || res.Segments[0].Type != SegmentText {
		t.Fatalf("segments: want one text segment got=%+v", res.Segments)
	}
	if got := reassemble(res.Segments); got != input {
		t.Fatalf("round trip: want=%q got=%q", input, got)
	}
}

func TestParseCitationAtBounds(t *testing.T) {
	p := newTestParser(t)
	input := "[A at 0:01](videoId:v1:1) and [B at 0:02](videoId:v2:2)"

	res := p.Parse(input)
	if len(res.Segments) != 3 {
		t.Fatalf("segments: want=3 got=%d (%+v)", len(res.Segments), res.Segments)
	}
	if res.Segments[0].Type != SegmentCitation || res.Segments[2].Type != SegmentCitation {
		t.Fatalf("boundary segments should be citations: %+v", res.Segments)
	}
	if got := reassemble(res.Segments); got != input {
		t.Fatalf("round trip: want=%q got=%q", input, got)
	}
}

func TestParseEmptyInput(t *testing.T) {
	p := newTestParser(t)
	res := p.Parse("")
	if len(res.Segments) != 0 || len(res.Citations) != 0 {
		t.Fatalf("want empty result got=%+v", res)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{7.25, "0:07"},
		{65, "1:05"},
		{615, "10:15"},
		{3661, "61:01"},
	}
	for _, tc := range cases {
		if got := FormatTimestamp(tc.in); got != tc.want {
			t.Fatalf("FormatTimestamp(%v): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}
