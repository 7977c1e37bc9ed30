package domain

import (
	"github.com/yungbote/rewatch-backend/internal/domain/chat"
	"github.com/yungbote/rewatch-backend/internal/domain/jobs"
	"github.com/yungbote/rewatch-backend/internal/domain/user"
	"github.com/yungbote/rewatch-backend/internal/domain/videos"
)

type User = user.User
type Video = videos.Video
type VideoStatus = videos.Status
type CaptionSegment = videos.CaptionSegment
type ChatThread = chat.ChatThread
type ChatMessage = chat.ChatMessage
type JobRun = jobs.JobRun

const (
	JobTypeVideoIngest = jobs.TypeVideoIngest
	JobTypeChatRespond = jobs.TypeChatRespond

	VideoStatusQueued                = videos.StatusQueued
	VideoStatusProcessing            = videos.StatusProcessing
	VideoStatusTranscriptExtracting  = videos.StatusTranscriptExtracting
	VideoStatusZeroEntropyProcessing = videos.StatusZeroEntropyProcessing
	VideoStatusReady                 = videos.StatusReady
	VideoStatusFailed                = videos.StatusFailed
)
