package transcript

import (
	"strings"
	"testing"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
)

func TestValidateQualityShortTranscript(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "Hi", Start: 0, Duration: 1},
	}

	report := ValidateQuality(segs, DefaultQualityThresholds())
	if report.IsValid {
		t.Fatalf("IsValid: want=false got=true")
	}
	if !hasIssueContaining(report.Issues, "transcript too short") {
		t.Fatalf("issues missing a text-length defect: %v", report.Issues)
	}
	if !hasIssueContaining(report.Issues, "video too short") {
		t.Fatalf("issues missing a duration defect: %v", report.Issues)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("issues: want=2 got=%d (%v)", len(report.Issues), report.Issues)
	}
}

func TestValidateQualityAccumulatesAllIssues(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "Hi", Start: 0, Duration: 1},
		{Text: "   ", Start: 1, Duration: 1},
		{Text: "", Start: 2, Duration: 1},
	}

	report := ValidateQuality(segs, DefaultQualityThresholds())
	if report.IsValid {
		t.Fatalf("IsValid: want=false got=true")
	}
	if len(report.Issues) != 3 {
		t.Fatalf("issues: want=3 got=%d (%v)", len(report.Issues), report.Issues)
	}
	if !hasIssueContaining(report.Issues, "too many empty segments: 2/3") {
		t.Fatalf("issues missing empty-segment defect: %v", report.Issues)
	}
}

func TestValidateQualityValidTranscript(t *testing.T) {
	var segs []types.CaptionSegment
	for i := 0; i < 20; i++ {
		segs = append(segs, types.CaptionSegment{
			Text:     "a reasonably sized caption line with actual words",
			Start:    float64(i) * 4,
			Duration: 4,
			Language: "en",
		})
	}

	report := ValidateQuality(segs, DefaultQualityThresholds())
	if !report.IsValid {
		t.Fatalf("IsValid: want=true got=false (issues=%v)", report.Issues)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("issues: want=none got=%v", report.Issues)
	}
	if report.Metrics.SegmentCount != 20 {
		t.Fatalf("SegmentCount: want=20 got=%d", report.Metrics.SegmentCount)
	}
	if report.Metrics.TotalDurationSec != 80 {
		t.Fatalf("TotalDurationSec: want=80 got=%v", report.Metrics.TotalDurationSec)
	}
	if report.Metrics.LanguageCounts["en"] != 20 {
		t.Fatalf("LanguageCounts[en]: want=20 got=%d", report.Metrics.LanguageCounts["en"])
	}
}

func TestValidateQualityEmptyTranscript(t *testing.T) {
	report := ValidateQuality(nil, DefaultQualityThresholds())
	if report.IsValid {
		t.Fatalf("IsValid: want=false got=true")
	}
	if report.Metrics.SegmentCount != 0 {
		t.Fatalf("SegmentCount: want=0 got=%d", report.Metrics.SegmentCount)
	}
}

func TestValidateQualityMetricsAverages(t *testing.T) {
	segs := []types.CaptionSegment{
		{Text: "abcd", Start: 0, Duration: 2, Language: "en"},
		{Text: "efghij", Start: 2, Duration: 4, Language: "de"},
	}

	report := ValidateQuality(segs, QualityThresholds{MinTextLength: 1, MinDurationSec: 1, MaxEmptyRatio: 0.5})
	if !report.IsValid {
		t.Fatalf("IsValid: want=true got=false (issues=%v)", report.Issues)
	}
	if report.Metrics.TotalTextLength != 10 {
		t.Fatalf("TotalTextLength: want=10 got=%d", report.Metrics.TotalTextLength)
	}
	if report.Metrics.AvgSegmentLength != 5 {
		t.Fatalf("AvgSegmentLength: want=5 got=%v", report.Metrics.AvgSegmentLength)
	}
	if report.Metrics.AvgSegmentDurationSec != 3 {
		t.Fatalf("AvgSegmentDurationSec: want=3 got=%v", report.Metrics.AvgSegmentDurationSec)
	}
	if report.Metrics.LanguageCounts["de"] != 1 {
		t.Fatalf("LanguageCounts[de]: want=1 got=%d", report.Metrics.LanguageCounts["de"])
	}
}

func hasIssueContaining(issues []string, substr string) bool {
	for _, issue := range issues {
		if strings.Contains(strings.ToLower(issue), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
