package chat

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	MessageStatusSent      = "sent"
	MessageStatusStreaming = "streaming"
	MessageStatusDone      = "done"
	MessageStatusError     = "error"
)

const (
	ThreadStatusActive   = "active"
	ThreadStatusArchived = "archived"
)

const (
	RouteSearch    = "search"
	RouteSmalltalk = "smalltalk"
)
