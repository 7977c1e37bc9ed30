package transcript

import (
	"math"
	"testing"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
)

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeClampsNegativeStart(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "Hello there", Start: -2, Duration: 3},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 1 {
		t.Fatalf("segments: want=1 got=%d", len(out))
	}
	if out[0].Start != 0 {
		t.Fatalf("Start: want=0 got=%v", out[0].Start)
	}
	if out[0].Duration != 3 {
		t.Fatalf("Duration: want=3 got=%v", out[0].Duration)
	}
}

func TestNormalizeMergesSliverForward(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "First", Start: 0, Duration: 2},
		{Text: "a", Start: 2, Duration: 0.3},
		{Text: "Third", Start: 2.3, Duration: 2},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 2 {
		t.Fatalf("segments: want=2 got=%d (%v)", len(out), out)
	}
	if out[0].Text != "First" || out[0].Start != 0 || out[0].Duration != 2 {
		t.Fatalf("first segment: got=%+v", out[0])
	}
	if out[1].Text != "a Third" {
		t.Fatalf("merged text: want=%q got=%q", "a Third", out[1].Text)
	}
	if out[1].Start != 2 {
		t.Fatalf("merged start: want=2 got=%v", out[1].Start)
	}
	if !floatEq(out[1].End(), 4.3) {
		t.Fatalf("merged end: want=4.3 got=%v", out[1].End())
	}
}

func TestNormalizeMergesTrailingSliverBackward(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "First", Start: 0, Duration: 2},
		{Text: "end.", Start: 2, Duration: 0.3},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 1 {
		t.Fatalf("segments: want=1 got=%d (%v)", len(out), out)
	}
	if out[0].Text != "First end." {
		t.Fatalf("merged text: want=%q got=%q", "First end.", out[0].Text)
	}
	if out[0].Start != 0 {
		t.Fatalf("merged start: want=0 got=%v", out[0].Start)
	}
	if !floatEq(out[0].End(), 2.3) {
		t.Fatalf("merged end: want=2.3 got=%v", out[0].End())
	}
}

func TestNormalizeDropsEmptySegments(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "A", Start: 0, Duration: 2},
		{Text: "   ", Start: 2, Duration: 2},
		{Text: "B", Start: 4, Duration: 2},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 2 {
		t.Fatalf("segments: want=2 got=%d (%v)", len(out), out)
	}
	if out[0].Text != "A" || out[1].Text != "B" {
		t.Fatalf("texts: want=[A B] got=[%q %q]", out[0].Text, out[1].Text)
	}
}

func TestNormalizeCascadesConsecutiveSlivers(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "a", Start: 0, Duration: 0.2},
		{Text: "b", Start: 0.2, Duration: 0.2},
		{Text: "c", Start: 0.4, Duration: 0.2},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 1 {
		t.Fatalf("segments: want=1 got=%d (%v)", len(out), out)
	}
	if out[0].Text != "a b c" {
		t.Fatalf("text: want=%q got=%q", "a b c", out[0].Text)
	}
	if out[0].Start != 0 {
		t.Fatalf("start: want=0 got=%v", out[0].Start)
	}
	if !floatEq(out[0].End(), 0.6) {
		t.Fatalf("end: want=0.6 got=%v", out[0].End())
	}
}

func TestNormalizeSingleSliverKept(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "hi", Start: 0, Duration: 0.2},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 1 {
		t.Fatalf("segments: want=1 got=%d", len(out))
	}
	if out[0].Text != "hi" {
		t.Fatalf("text: want=%q got=%q", "hi", out[0].Text)
	}
}

func TestNormalizeSliverIntoEmptyFollower(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "a", Start: 0, Duration: 0.3},
		{Text: "", Start: 0.3, Duration: 2},
	}

	out := Normalize(segs, DefaultMinViableDurationSec)
	if len(out) != 1 {
		t.Fatalf("segments: want=1 got=%d (%v)", len(out), out)
	}
	if out[0].Text != "a" {
		t.Fatalf("text: want=%q got=%q", "a", out[0].Text)
	}
	if !floatEq(out[0].End(), 2.3) {
		t.Fatalf("end: want=2.3 got=%v", out[0].End())
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "First", Start: -1, Duration: 2},
		{Text: "a", Start: 1, Duration: 0.3},
		{Text: "Third", Start: 1.3, Duration: 2},
	}
	orig := make([]types.CaptionSegment, len(segs))
	copy(orig, segs)

	_ = Normalize(segs, DefaultMinViableDurationSec)

	for i := range segs {
		if segs[i] != orig[i] {
			t.Fatalf("input mutated at %d: want=%+v got=%+v", i, orig[i], segs[i])
		}
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	if out := Normalize(nil, DefaultMinViableDurationSec); out != nil {
		t.Fatalf("want=nil got=%v", out)
	}
}
