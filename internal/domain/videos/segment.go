package videos

// CaptionSegment is one timed caption cue as returned by the caption
// provider. Start may be malformed (negative) upstream; normalization
// guarantees Start >= 0.
type CaptionSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Language string  `json:"language,omitempty"`
}

func (s CaptionSegment) End() float64 { return s.Start + s.Duration }

// Transcript is the full caption track for one video.
type Transcript struct {
	VideoID  string           `json:"video_id"`
	Language string           `json:"language,omitempty"`
	Segments []CaptionSegment `json:"segments"`
}
