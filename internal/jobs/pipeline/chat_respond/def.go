package chat_respond

import (
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/citations"
	"github.com/yungbote/rewatch-backend/internal/data/repos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/neo4jdb"
	"github.com/yungbote/rewatch-backend/internal/platform/openai"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/services"
)

type Pipeline struct {
	db  *gorm.DB
	log *logger.Logger

	ai     openai.Client
	search search.Router

	threads  repos.ChatThreadRepo
	messages repos.ChatMessageRepo

	parser *citations.Parser
	graph  *neo4jdb.Client

	notify services.ChatNotifier
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	ai openai.Client,
	searchRouter search.Router,
	threads repos.ChatThreadRepo,
	messages repos.ChatMessageRepo,
	parser *citations.Parser,
	graph *neo4jdb.Client,
	notify services.ChatNotifier,
) *Pipeline {
	return &Pipeline{
		db:       db,
		log:      baseLog.With("job", types.JobTypeChatRespond),
		ai:       ai,
		search:   searchRouter,
		threads:  threads,
		messages: messages,
		parser:   parser,
		graph:    graph,
		notify:   notify,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeChatRespond }
