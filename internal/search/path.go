package search

import (
	"fmt"
	"strconv"
	"strings"
)

const chunkMarker = "-chunk"

// ParsedPath identifies which indexed page a search hit came from.
type ParsedPath struct {
	VideoID    string
	ChunkIndex int
	// Legacy is true for single-segment pages indexed before chunking,
	// whose paths carry a bare numeric suffix instead of a chunk marker.
	Legacy bool
}

// ParsePath recovers the video id and chunk index from an indexed page path.
// Chunk pages look like "<videoId>-chunk<N>", legacy pages like
// "<videoId>-<index>". Video ids may contain dashes, so both formats parse
// from the right: the rightmost "-chunk<digits>" suffix wins, else the
// rightmost "-<digits>" suffix.
func ParsePath(path string) (ParsedPath, error) {
	if idx := strings.LastIndex(path, chunkMarker); idx > 0 {
		if n, ok := parseIndexSuffix(path[idx+len(chunkMarker):]); ok {
			return ParsedPath{VideoID: path[:idx], ChunkIndex: n}, nil
		}
	}
	if idx := strings.LastIndex(path, "-"); idx > 0 {
		if n, ok := parseIndexSuffix(path[idx+1:]); ok {
			return ParsedPath{VideoID: path[:idx], ChunkIndex: n, Legacy: true}, nil
		}
	}
	return ParsedPath{}, fmt.Errorf("unrecognized page path %q", path)
}

func parseIndexSuffix(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
