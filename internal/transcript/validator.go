package transcript

import (
	"fmt"
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
)

// QualityThresholds are deliberately generous: the goal is to reject only
// structurally unusable transcripts (disabled captions, non-speech videos),
// not to judge content quality.
type QualityThresholds struct {
	MinTextLength  int
	MinDurationSec float64
	MaxEmptyRatio  float64
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinTextLength:  50,
		MinDurationSec: 10,
		MaxEmptyRatio:  0.5,
	}
}

type QualityMetrics struct {
	SegmentCount          int            `json:"segment_count"`
	TotalDurationSec      float64        `json:"total_duration_sec"`
	TotalTextLength       int            `json:"total_text_length"`
	AvgSegmentLength      float64        `json:"avg_segment_length"`
	AvgSegmentDurationSec float64        `json:"avg_segment_duration_sec"`
	LanguageCounts        map[string]int `json:"language_counts"`
}

type QualityReport struct {
	IsValid bool           `json:"is_valid"`
	Issues  []string       `json:"issues"`
	Metrics QualityMetrics `json:"metrics"`
}

// ValidateQuality scores a raw transcript against minimum-viability
// thresholds. Every rule is evaluated; issues accumulate rather than
// short-circuiting so the report names all defects at once.
func ValidateQuality(segments []types.CaptionSegment, th QualityThresholds) QualityReport {
	metrics := computeMetrics(segments)

	var issues []string
	if metrics.TotalTextLength < th.MinTextLength {
		issues = append(issues, fmt.Sprintf(
			"transcript too short (%d chars), likely poor quality or disabled captions",
			metrics.TotalTextLength,
		))
	}
	if metrics.TotalDurationSec < th.MinDurationSec {
		issues = append(issues, fmt.Sprintf(
			"video too short (%.1fs of captions)",
			metrics.TotalDurationSec,
		))
	}
	if metrics.SegmentCount > 0 {
		empty := countEmptySegments(segments)
		ratio := float64(empty) / float64(metrics.SegmentCount)
		if ratio > th.MaxEmptyRatio {
			issues = append(issues, fmt.Sprintf(
				"too many empty segments: %d/%d (%.0f%%)",
				empty, metrics.SegmentCount, ratio*100,
			))
		}
	}

	return QualityReport{
		IsValid: len(issues) == 0,
		Issues:  issues,
		Metrics: metrics,
	}
}

func computeMetrics(segments []types.CaptionSegment) QualityMetrics {
	m := QualityMetrics{
		SegmentCount:   len(segments),
		LanguageCounts: map[string]int{},
	}
	for _, seg := range segments {
		m.TotalTextLength += len(seg.Text)
		if seg.Duration > 0 {
			m.TotalDurationSec += seg.Duration
		}
		lang := seg.Language
		if lang == "" {
			lang = "unknown"
		}
		m.LanguageCounts[lang]++
	}
	if m.SegmentCount > 0 {
		m.AvgSegmentLength = float64(m.TotalTextLength) / float64(m.SegmentCount)
		m.AvgSegmentDurationSec = m.TotalDurationSec / float64(m.SegmentCount)
	}
	return m
}

func countEmptySegments(segments []types.CaptionSegment) int {
	n := 0
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			n++
		}
	}
	return n
}
