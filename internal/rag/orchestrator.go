package rag

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/friendlyhq/friendly/internal/helpers"
	"github.com/friendlyhq/friendly/internal/store"
	"github.com/friendlyhq/friendly/provider"
)

// ErrEmptyMessage reports a message whose content is empty after sanitisation.
var ErrEmptyMessage = errors.New("message content cannot be empty")

var (
	chatTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "friendly_chat_turns_total",
		Help: "Completed conversation turns.",
	})
	writeBacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "friendly_knowledge_writebacks_total",
		Help: "AI answers written back as knowledge candidates.",
	})
)

// ConversationWriter appends messages to a conversation.
type ConversationWriter interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) (store.Message, error)
}

// KnowledgeWriter inserts knowledge entries.
type KnowledgeWriter interface {
	InsertKnowledge(ctx context.Context, e store.KnowledgeEntry) (store.KnowledgeEntry, error)
}

// Indexer receives entries that must become searchable. Indexing failures are
// logged, never fatal.
type Indexer interface {
	Index(e store.KnowledgeEntry) error
}

// Turn is the result of one conversation pass.
type Turn struct {
	UserMessage store.Message
	AIMessage   store.Message
	Docs        []ScoredDoc
}

// Orchestrator runs the per-message loop: sanitize and persist the user turn,
// retrieve grounding documents, complete, persist the AI turn and write the
// answer back into the knowledge base as an unapproved candidate.
type Orchestrator struct {
	provider    provider.Provider
	retriever   *Retriever
	convos      ConversationWriter
	knowledge   KnowledgeWriter
	indexer     Indexer
	titleMaxLen int
	logger      *log.Logger
}

func NewOrchestrator(p provider.Provider, retriever *Retriever, convos ConversationWriter, knowledge KnowledgeWriter, indexer Indexer, titleMaxLen int, logger *log.Logger) *Orchestrator {
	if titleMaxLen <= 0 {
		titleMaxLen = 100
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Orchestrator{
		provider:    p,
		retriever:   retriever,
		convos:      convos,
		knowledge:   knowledge,
		indexer:     indexer,
		titleMaxLen: titleMaxLen,
		logger:      logger,
	}
}

// Respond executes one conversation turn. Provider failures degrade (empty
// context, sentinel answer); storage failures are fatal for the turn but any
// already-persisted message stays durable, leaving the conversation valid.
func (o *Orchestrator) Respond(ctx context.Context, conversationID, content string, topK int) (Turn, error) {
	question := helpers.SanitizeText(content)
	if question == "" {
		return Turn{}, ErrEmptyMessage
	}

	userMsg, err := o.convos.AppendMessage(ctx, conversationID, store.RoleUser, question)
	if err != nil {
		return Turn{}, fmt.Errorf("append user message: %w", err)
	}

	docs, err := o.retriever.FindRelevantDocs(ctx, question, topK)
	if err != nil {
		o.logger.Printf("retrieval failed, continuing without context: %v", err)
		docs = nil
	}

	answer, err := o.provider.Complete(ctx, BuildPrompt(question, docs))
	if err != nil {
		o.logger.Printf("completion failed, using sentinel: %v", err)
		answer = provider.Unavailable
	}

	aiMsg, err := o.convos.AppendMessage(ctx, conversationID, store.RoleAI, answer)
	if err != nil {
		return Turn{}, fmt.Errorf("append ai message: %w", err)
	}

	if err := o.writeBack(ctx, question, answer); err != nil {
		return Turn{}, err
	}

	chatTurns.Inc()
	return Turn{UserMessage: userMsg, AIMessage: aiMsg, Docs: docs}, nil
}

// writeBack stores the answer as an unapproved knowledge candidate so later
// turns can retrieve it. The embedding is best effort; the insert is not.
func (o *Orchestrator) writeBack(ctx context.Context, question, answer string) error {
	vec, err := o.provider.Embed(ctx, answer)
	if err != nil {
		o.logger.Printf("write-back embedding unavailable, storing without vector: %v", err)
		vec = nil
	}
	entry := store.KnowledgeEntry{
		Title:         helpers.Truncate(question, o.titleMaxLen),
		Content:       answer,
		Tags:          []string{"auto"},
		Embedding:     vec,
		CreatedByUser: true,
	}
	saved, err := o.knowledge.InsertKnowledge(ctx, entry)
	if err != nil {
		return fmt.Errorf("knowledge write-back: %w", err)
	}
	writeBacks.Inc()
	if o.indexer != nil {
		if err := o.indexer.Index(saved); err != nil {
			o.logger.Printf("index write-back entry %s: %v", saved.ID, err)
		}
	}
	return nil
}
