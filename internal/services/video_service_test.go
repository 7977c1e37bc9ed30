package services

import (
	"strings"
	"testing"
)

func TestParseYouTubeID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare_id", in: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "bare_id_padded", in: "  dQw4w9WgXcQ  ", want: "dQw4w9WgXcQ"},
		{name: "watch_url", in: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "watch_url_extra_params", in: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s&list=PL123", want: "dQw4w9WgXcQ"},
		{name: "short_link", in: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "short_link_with_query", in: "https://youtu.be/dQw4w9WgXcQ?si=abc", want: "dQw4w9WgXcQ"},
		{name: "shorts", in: "https://www.youtube.com/shorts/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "embed", in: "https://www.youtube.com/embed/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "live", in: "https://www.youtube.com/live/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "legacy_v_path", in: "https://www.youtube.com/v/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "mobile_host", in: "https://m.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "music_host", in: "https://music.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "scheme_omitted", in: "youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseYouTubeID(tc.in)
			if err != nil {
				t.Fatalf("ParseYouTubeID(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseYouTubeID(%q): want=%q got=%q", tc.in, tc.want, got)
			}
		})
	}
}

func TestParseYouTubeIDRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "spaces_only", in: "   "},
		{name: "wrong_host", in: "https://vimeo.com/12345678"},
		{name: "watch_without_v", in: "https://www.youtube.com/watch"},
		{name: "channel_path", in: "https://www.youtube.com/@somechannel"},
		{name: "id_with_invalid_chars", in: "dQw4!9WgXcQ"},
		{name: "id_too_short", in: "ab"},
		{name: "id_too_long", in: strings.Repeat("a", 65)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, err := ParseYouTubeID(tc.in); err == nil {
				t.Fatalf("ParseYouTubeID(%q): expected error, got %q", tc.in, got)
			}
		})
	}
}
