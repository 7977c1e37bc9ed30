package videos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status values a video moves through during ingestion. QUEUED is set at
// registration; READY and FAILED are terminal.
type Status string

const (
	StatusQueued                Status = "QUEUED"
	StatusProcessing            Status = "PROCESSING"
	StatusTranscriptExtracting  Status = "TRANSCRIPT_EXTRACTING"
	StatusZeroEntropyProcessing Status = "ZEROENTROPY_PROCESSING"
	StatusReady                 Status = "READY"
	StatusFailed                Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusTranscriptExtracting,
		StatusZeroEntropyProcessing, StatusReady, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether to is a legal successor of from. FAILED is
// reachable from every non-terminal state; the happy path is strictly ordered.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusTranscriptExtracting
	case StatusTranscriptExtracting:
		return to == StatusZeroEntropyProcessing
	case StatusZeroEntropyProcessing:
		return to == StatusReady
	default:
		return false
	}
}

type Video struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_video_owner_youtube,priority:1" json:"owner_user_id"`

	// Provider identifier, e.g. the YouTube video id. May contain dashes.
	YoutubeID string `gorm:"not null;column:youtube_id;uniqueIndex:idx_video_owner_youtube,priority:2" json:"youtube_id"`

	Title        string  `gorm:"column:title;not null;default:''" json:"title"`
	ChannelTitle string  `gorm:"column:channel_title" json:"channel_title,omitempty"`
	ThumbnailURL string  `gorm:"column:thumbnail_url" json:"thumbnail_url,omitempty"`
	Language     string  `gorm:"column:language" json:"language,omitempty"`
	DurationSec  float64 `gorm:"column:duration_sec;not null;default:0" json:"duration_sec"`

	Status Status `gorm:"column:status;not null;default:'QUEUED';index" json:"status"`
	Error  string `gorm:"column:error" json:"error,omitempty"`

	// Collection the video's chunks were indexed into; set when READY.
	CollectionID string `gorm:"column:collection_id;index" json:"collection_id,omitempty"`

	// Bucket key of the archived raw transcript, set by extraction.
	TranscriptBucketKey string `gorm:"column:transcript_bucket_key" json:"transcript_bucket_key,omitempty"`

	IngestedAt *time.Time `gorm:"column:ingested_at" json:"ingested_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Video) TableName() string { return "video" }
