package transcript

import (
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
)

// ChunkLevel selects one of the two indexed granularities. The same
// transcript is chunked once per level; a single window size cannot serve
// both "find this exact quote" and "what is this video about".
type ChunkLevel string

const (
	// LevelDetailed targets 30-90 second windows for precise-fact retrieval.
	LevelDetailed ChunkLevel = "1"
	// LevelThematic targets 5-20 minute windows for broad-overview retrieval.
	LevelThematic ChunkLevel = "2"
)

func (l ChunkLevel) Valid() bool {
	return l == LevelDetailed || l == LevelThematic
}

type ChunkWindow struct {
	MinSec float64
	MaxSec float64
}

func WindowForLevel(level ChunkLevel) ChunkWindow {
	if level == LevelThematic {
		return ChunkWindow{MinSec: 300, MaxSec: 1200}
	}
	return ChunkWindow{MinSec: 30, MaxSec: 90}
}

// Chunk is the retrievable unit: one window of consecutive normalized
// segments, space-joined. Chunks are created once per ingestion run and are
// immutable thereafter; re-ingestion produces a fresh set.
type Chunk struct {
	Text         string     `json:"text"`
	StartSec     float64    `json:"start_sec"`
	EndSec       float64    `json:"end_sec"`
	DurationSec  float64    `json:"duration_sec"`
	SegmentCount int        `json:"segment_count"`
	ChunkIndex   int        `json:"chunk_index"`
	Level        ChunkLevel `json:"level"`
}

// BuildChunks groups normalized segments into windows for the given level.
func BuildChunks(segments []types.CaptionSegment, level ChunkLevel) []Chunk {
	return BuildChunksWindow(segments, level, WindowForLevel(level))
}

// BuildChunksWindow is the parameterized core shared by both levels.
//
// Greedy accumulation: a window closes only once it has reached MinSec and
// the next segment would push it past MaxSec, or when input runs out. A
// window never closes below MinSec unless it is the final one, so a video
// never ends in a pathological single-segment chunk. A single segment longer
// than MaxSec becomes its own oversized chunk.
//
// Deterministic, and round-trips: concatenating chunk texts in ChunkIndex
// order reconstructs the joined segment text exactly.
func BuildChunksWindow(segments []types.CaptionSegment, level ChunkLevel, win ChunkWindow) []Chunk {
	if len(segments) == 0 {
		return nil
	}

	var out []Chunk
	var texts []string
	windowStart := segments[0].Start
	first := 0

	flush := func(last int, end float64) {
		out = append(out, Chunk{
			Text:         strings.Join(texts, " "),
			StartSec:     windowStart,
			EndSec:       end,
			DurationSec:  end - windowStart,
			SegmentCount: last - first + 1,
			ChunkIndex:   len(out),
			Level:        level,
		})
		texts = texts[:0]
	}

	for i, seg := range segments {
		texts = append(texts, seg.Text)

		if i == len(segments)-1 {
			flush(i, seg.End())
			break
		}

		accumulated := seg.End() - windowStart
		nextSpan := segments[i+1].End() - windowStart
		if accumulated >= win.MinSec && nextSpan > win.MaxSec {
			flush(i, seg.End())
			first = i + 1
			windowStart = segments[i+1].Start
		}
	}

	return out
}
