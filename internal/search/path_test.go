package search

import "testing"

func TestParsePathChunkMarker(t *testing.T) {
	cases := []struct {
		path       string
		wantVideo  string
		wantIndex  int
		wantLegacy bool
	}{
		{"video-abc-def-123-chunk0", "video-abc-def-123", 0, false},
		{"dQw4w9WgXcQ-chunk12", "dQw4w9WgXcQ", 12, false},
		{"my-chunky-video-chunk3", "my-chunky-video", 3, false},
		{"abc-123-def-456-chunk7", "abc-123-def-456", 7, false},
		{"dQw4w9WgXcQ-7", "dQw4w9WgXcQ", 7, true},
		{"abc-123-def-456-3", "abc-123-def-456", 3, true},
		{"video-chunker-7", "video-chunker", 7, true},
	}
	for _, tc := range cases {
		got, err := ParsePath(tc.path)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", tc.path, err)
		}
		if got.VideoID != tc.wantVideo {
			t.Fatalf("ParsePath(%q) video id: want=%q got=%q", tc.path, tc.wantVideo, got.VideoID)
		}
		if got.ChunkIndex != tc.wantIndex {
			t.Fatalf("ParsePath(%q) chunk index: want=%d got=%d", tc.path, tc.wantIndex, got.ChunkIndex)
		}
		if got.Legacy != tc.wantLegacy {
			t.Fatalf("ParsePath(%q) legacy: want=%v got=%v", tc.path, tc.wantLegacy, got.Legacy)
		}
	}
}

func TestParsePathRejectsUnparseable(t *testing.T) {
	for _, path := range []string{"", "novideo", "-chunk0", "video-", "video-abc", "-3"} {
		if _, err := ParsePath(path); err == nil {
			t.Fatalf("ParsePath(%q): expected error", path)
		}
	}
}
