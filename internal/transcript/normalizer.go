package transcript

import (
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
)

// DefaultMinViableDurationSec is the sliver threshold: segments shorter than
// this (leftover punctuation-only cues, mostly) are merged into a neighbor
// instead of standing alone.
const DefaultMinViableDurationSec = 0.5

// Normalize repairs degenerate caption segments before chunking. It is pure
// and order-preserving: the input slice is never mutated, and it never fails.
//
// Repairs applied, in order:
//  1. negative starts are clamped to 0 with duration preserved
//  2. sliver segments merge forward into the following segment (text
//     space-joined, start extended backward so no time is lost), or backward
//     into the previous one when no following segment exists
//  3. segments whose text is empty after trimming are dropped
func Normalize(segments []types.CaptionSegment, minViableDurationSec float64) []types.CaptionSegment {
	if len(segments) == 0 {
		return nil
	}
	if minViableDurationSec <= 0 {
		minViableDurationSec = DefaultMinViableDurationSec
	}

	work := make([]types.CaptionSegment, len(segments))
	copy(work, segments)

	for i := range work {
		if work[i].Start < 0 {
			work[i].Start = 0
		}
	}

	merged := make([]types.CaptionSegment, 0, len(work))
	for i := 0; i < len(work); i++ {
		seg := work[i]
		if seg.Duration >= minViableDurationSec {
			merged = append(merged, seg)
			continue
		}
		if i+1 < len(work) {
			// Forward merge: the follower absorbs the sliver's text and
			// span. The follower is re-examined on the next iteration, so
			// runs of consecutive slivers cascade until a viable segment
			// absorbs them all.
			next := &work[i+1]
			end := next.End()
			next.Text = joinText(seg.Text, next.Text)
			next.Start = seg.Start
			next.Duration = end - seg.Start
			continue
		}
		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			prev.Text = joinText(prev.Text, seg.Text)
			prev.Duration = seg.End() - prev.Start
			continue
		}
		// A transcript that is a single sliver stays a single segment.
		merged = append(merged, seg)
	}

	out := make([]types.CaptionSegment, 0, len(merged))
	for _, seg := range merged {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
