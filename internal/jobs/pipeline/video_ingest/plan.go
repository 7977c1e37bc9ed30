package video_ingest

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

const videoIngestPlanEnv = "VIDEO_INGEST_PIPELINE_YAML"

//go:embed video_ingest.yaml
var videoIngestPlanFS embed.FS

// Stage names, in execution order. The plan may restyle progress bands and
// messages but the stage set and order are fixed: each name binds to a run
// function in pipeline.go.
const (
	stageStatusProcessing  = "update-status-to-processing"
	stageStatusExtracting  = "update-status-to-transcript-extracting"
	stageExtractTranscript = "extract-transcript"
	stageStatusIndexing    = "update-status-to-zeroentropy-processing"
	stageProcessSegments   = "process-transcript-segments"
	stageEnsureCollection  = "ensure-user-collection"
	stageIndexPages        = "index-transcript-pages"
	stageHandleIndexFail   = "handle-zeroentropy-failure"
	stageFinalize          = "update-video-with-collection"
)

var stageOrder = []string{
	stageStatusProcessing,
	stageStatusExtracting,
	stageExtractTranscript,
	stageStatusIndexing,
	stageProcessSegments,
	stageEnsureCollection,
	stageIndexPages,
	stageHandleIndexFail,
	stageFinalize,
}

type yamlPlan struct {
	Pipeline string          `yaml:"pipeline"`
	Version  int             `yaml:"version"`
	Stages   []yamlStagePlan `yaml:"stages"`
}

type yamlStagePlan struct {
	Name        string `yaml:"name"`
	StartPct    int    `yaml:"start_pct"`
	EndPct      int    `yaml:"end_pct"`
	StartMsg    string `yaml:"start_msg"`
	DoneMsg     string `yaml:"done_msg"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
}

func (p yamlStagePlan) timeout() time.Duration {
	if strings.TrimSpace(p.Timeout) == "" {
		return 0
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// fallback plan used when the YAML is missing or invalid
var fallbackPlan = []yamlStagePlan{
	{Name: stageStatusProcessing, StartPct: 0, EndPct: 4, StartMsg: "Starting ingestion", DoneMsg: "Ingestion started"},
	{Name: stageStatusExtracting, StartPct: 4, EndPct: 8, StartMsg: "Preparing transcript extraction"},
	{Name: stageExtractTranscript, StartPct: 8, EndPct: 30, StartMsg: "Extracting transcript", DoneMsg: "Transcript extracted", Timeout: "3m", MaxAttempts: 3},
	{Name: stageStatusIndexing, StartPct: 30, EndPct: 34},
	{Name: stageProcessSegments, StartPct: 34, EndPct: 50, StartMsg: "Validating and chunking transcript", DoneMsg: "Transcript chunked"},
	{Name: stageEnsureCollection, StartPct: 50, EndPct: 55, StartMsg: "Preparing search collection", MaxAttempts: 3},
	{Name: stageIndexPages, StartPct: 55, EndPct: 90, StartMsg: "Indexing transcript pages", DoneMsg: "Transcript indexed", Timeout: "10m", MaxAttempts: 2},
	{Name: stageHandleIndexFail, StartPct: 90, EndPct: 93, StartMsg: "Verifying index health"},
	{Name: stageFinalize, StartPct: 93, EndPct: 100, StartMsg: "Finalizing", DoneMsg: "Video ready"},
}

var planOnce sync.Once
var planCache []yamlStagePlan
var planErr error

func stagePlan(log *logger.Logger) []yamlStagePlan {
	planOnce.Do(func() {
		planCache, planErr = loadPlan()
	})
	if planErr != nil {
		if log != nil {
			log.Warn("video_ingest: stage plan load failed; using fallback", "error", planErr)
		}
		return fallbackPlan
	}
	return planCache
}

func loadPlan() ([]yamlStagePlan, error) {
	data, err := readPlanBytes()
	if err != nil {
		return nil, err
	}
	var plan yamlPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	return plan.Stages, nil
}

func readPlanBytes() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(videoIngestPlanEnv)); path != "" {
		return os.ReadFile(path)
	}
	return videoIngestPlanFS.ReadFile("video_ingest.yaml")
}

func validatePlan(plan *yamlPlan) error {
	if plan == nil {
		return errors.New("missing plan")
	}
	if strings.TrimSpace(plan.Pipeline) != "video_ingest" {
		return fmt.Errorf("unexpected pipeline: %s", plan.Pipeline)
	}
	if len(plan.Stages) != len(stageOrder) {
		return fmt.Errorf("plan has %d stages, want %d", len(plan.Stages), len(stageOrder))
	}
	lastEnd := -1
	for i, stage := range plan.Stages {
		name := strings.TrimSpace(stage.Name)
		if name != stageOrder[i] {
			return fmt.Errorf("stage %d: got %q, want %q", i, name, stageOrder[i])
		}
		if stage.StartPct < 0 || stage.StartPct > 100 || stage.EndPct < 0 || stage.EndPct > 100 {
			return fmt.Errorf("stage %s: progress must be 0..100", name)
		}
		if stage.EndPct < stage.StartPct {
			return fmt.Errorf("stage %s: end_pct must be >= start_pct", name)
		}
		if stage.EndPct < lastEnd {
			return fmt.Errorf("stage %s: end_pct must not regress", name)
		}
		lastEnd = stage.EndPct
		if stage.MaxAttempts < 0 {
			return fmt.Errorf("stage %s: max_attempts must be >= 0", name)
		}
		if strings.TrimSpace(stage.Timeout) != "" {
			if _, err := time.ParseDuration(stage.Timeout); err != nil {
				return fmt.Errorf("stage %s: bad timeout: %w", name, err)
			}
		}
	}
	return nil
}
