package citations

import (
	"strconv"
	"strings"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// Citations are embedded in generated answers as
//
//	[Video Title at M:SS](videoId:VIDEO_ID:START_SECONDS)
//
// where START_SECONDS may carry a fractional part. The display timestamp and
// the start-seconds field are parsed independently: the former is for humans,
// the latter drives player navigation, and they are not required to agree.

type SegmentType string

const (
	SegmentText     SegmentType = "text"
	SegmentCitation SegmentType = "citation"
)

// Segment is one span of the parsed answer. Concatenating Content over all
// segments in order reconstructs the input exactly.
type Segment struct {
	Type     SegmentType `json:"type"`
	Content  string      `json:"content"`
	Citation *Citation   `json:"citation,omitempty"`
}

type Citation struct {
	ID         int     `json:"id"`
	VideoID    string  `json:"video_id"`
	VideoTitle string  `json:"video_title"`
	Timestamp  string  `json:"timestamp"`
	StartTime  float64 `json:"start_time"`
	MatchIndex int     `json:"match_index"`
	Text       string  `json:"text"`
}

type ParseResult struct {
	Segments  []Segment  `json:"segments"`
	Citations []Citation `json:"citations"`
}

type Parser struct {
	log *logger.Logger
}

func NewParser(baseLog *logger.Logger) *Parser {
	return &Parser{log: baseLog.With("component", "citation_parser")}
}

// Parse scans text left to right for citation markup. It is total: malformed
// candidates are logged and skipped, never fatal, and the output segments
// cover every byte of the input in order.
func (p *Parser) Parse(text string) ParseResult {
	res := ParseResult{Segments: []Segment{}, Citations: []Citation{}}
	if text == "" {
		return res
	}

	pos := 0
	lastEmit := 0
	for pos < len(text) {
		rel := strings.Index(text[pos:], "[")
		if rel < 0 {
			break
		}
		open := pos + rel

		cand, end, shapeOK, parseErr := parseCandidateAt(text, open)
		if !shapeOK {
			pos = open + 1
			continue
		}
		if parseErr != "" {
			p.log.Warn("skipping malformed citation candidate",
				"reason", parseErr,
				"candidate", text[open:end],
			)
			pos = open + 1
			continue
		}

		if open > lastEmit {
			res.Segments = append(res.Segments, Segment{
				Type:    SegmentText,
				Content: text[lastEmit:open],
			})
		}

		cand.ID = len(res.Citations) + 1
		cand.MatchIndex = open
		cand.Text = text[open:end]
		res.Citations = append(res.Citations, cand)
		c := cand
		res.Segments = append(res.Segments, Segment{
			Type:     SegmentCitation,
			Content:  text[open:end],
			Citation: &c,
		})

		lastEmit = end
		pos = end
	}

	if lastEmit < len(text) {
		res.Segments = append(res.Segments, Segment{
			Type:    SegmentText,
			Content: text[lastEmit:],
		})
	}
	return res
}

// parseCandidateAt examines text starting at an opening bracket. shapeOK
// reports whether the outer markup shape is present at all; parseErr names
// the defect when the shape matched but the fields did not parse.
func parseCandidateAt(text string, open int) (cand Citation, end int, shapeOK bool, parseErr string) {
	rest := text[open:]

	closeBracket := strings.Index(rest, "]")
	if closeBracket < 0 {
		return Citation{}, 0, false, ""
	}
	const marker = "](videoId:"
	if !strings.HasPrefix(rest[closeBracket:], marker) {
		return Citation{}, 0, false, ""
	}
	parenClose := strings.Index(rest[closeBracket:], ")")
	if parenClose < 0 {
		return Citation{}, 0, false, ""
	}
	parenClose += closeBracket
	end = open + parenClose + 1

	title, timestamp, ok := splitTitleTimestamp(rest[1:closeBracket])
	if !ok {
		return Citation{}, end, true, "bracket text is not \"Title at M:SS\""
	}

	inner := rest[closeBracket+len(marker) : parenClose]
	sep := strings.LastIndex(inner, ":")
	if sep <= 0 || sep == len(inner)-1 {
		return Citation{}, end, true, "target is not \"videoId:ID:SECONDS\""
	}
	videoID := inner[:sep]
	startTime, err := strconv.ParseFloat(inner[sep+1:], 64)
	if err != nil || startTime < 0 {
		return Citation{}, end, true, "start seconds did not parse"
	}

	return Citation{
		VideoID:    videoID,
		VideoTitle: title,
		Timestamp:  timestamp,
		StartTime:  startTime,
	}, end, true, ""
}

// splitTitleTimestamp splits "Some Title at M:SS" on the rightmost " at "
// whose suffix is a valid M:SS timestamp, so titles containing " at " survive.
func splitTitleTimestamp(s string) (title, timestamp string, ok bool) {
	for i := len(s); i > 0; {
		idx := strings.LastIndex(s[:i], " at ")
		if idx < 0 {
			return "", "", false
		}
		ts := s[idx+4:]
		if isTimestamp(ts) {
			title = strings.TrimSpace(s[:idx])
			if title == "" {
				return "", "", false
			}
			return title, ts, true
		}
		i = idx
	}
	return "", "", false
}

// isTimestamp accepts M:SS with one or more minute digits and exactly two
// second digits.
func isTimestamp(s string) bool {
	sep := strings.Index(s, ":")
	if sep < 1 || len(s)-sep-1 != 2 {
		return false
	}
	for _, r := range s[:sep] {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, r := range s[sep+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatTimestamp renders seconds as the display form used in citations.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return strconv.Itoa(total/60) + ":" + pad2(total%60)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
