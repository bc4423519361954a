// Package chat drives a single generation request: it assembles the
// prompt window from stored history and the new turns, augments it with
// tool output and date awareness, and relays the streamed completion.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/config"
	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/llm"
	"github.com/SleepyXm/SynapseR/internal/log"
	"github.com/SleepyXm/SynapseR/internal/tools"
)

// relayBuffer bounds the chunk channel between the provider goroutine and
// the consumer loop.
const relayBuffer = 16

// datePhrases trigger the current-date system injection.
var datePhrases = []string{"current date", "today"}

// StreamRequest carries everything one generation needs. The caller's
// provider token travels with the request and is never stored.
type StreamRequest struct {
	ConversationID uuid.UUID
	OwnerID        string
	ModelID        string
	Token          string
	Turns          []conversation.Payload
}

// Orchestrator runs generation requests against a conversation store and
// an LLM provider. It is safe for concurrent use; per-conversation state
// lives in a Manager constructed per request.
type Orchestrator struct {
	store            conversation.Storage
	router           *tools.Router
	newClient        llm.Factory
	snapshotMessages int
	maxTokens        int
	titleMaxTokens   int
	generationWait   time.Duration
	now              func() time.Time
	wg               sync.WaitGroup
	logger           log.Logger
}

// NewOrchestrator wires an orchestrator from configuration.
func NewOrchestrator(store conversation.Storage, router *tools.Router, factory llm.Factory, cfg *config.Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		store:            store,
		router:           router,
		newClient:        factory,
		snapshotMessages: config.NormalizeSnapshotMessages(cfg.SnapshotMessages),
		maxTokens:        cfg.MaxTokens,
		titleMaxTokens:   cfg.TitleMaxTokens,
		generationWait:   time.Duration(cfg.GenerationTimeout) * time.Second,
		now:              time.Now,
		logger:           logger,
	}
}

// Wait blocks until background work (title generation) has drained. Used
// during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stream executes one generation request, calling emit for every
// non-empty completion fragment in order. Errors from emit abort the
// relay and are returned as-is; provider failures surface as
// llm.ErrUpstream. The caller decides, based on whether emit ever ran,
// between an error status and a truncated stream.
func (o *Orchestrator) Stream(ctx context.Context, req StreamRequest, emit func(chunk string) error) error {
	record, err := o.store.Fetch(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if record.OwnerID != req.OwnerID {
		return conversation.ErrForbidden
	}

	client, err := o.newClient(req.ModelID, req.Token)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}

	manager := conversation.NewManager(o.store, req.ConversationID, req.OwnerID, o.logger)
	window, err := manager.Snapshot(ctx, o.snapshotMessages)
	if err != nil {
		return err
	}
	for _, turn := range req.Turns {
		role := turn.Role
		if role == "" {
			role = conversation.RoleUser
		}
		window = append(window, conversation.PromptMessage{Role: role, Content: turn.Content})
	}

	if record.Title == nil {
		o.generateTitle(ctx, client, req.ConversationID, window)
	}

	latest := latestUserTurn(req.Turns)
	if latest != "" {
		if msg := o.dateContext(latest); msg != "" {
			window = append(window, conversation.PromptMessage{Role: conversation.RoleSystem, Content: msg})
		}
		toolOut, err := o.router.Route(ctx, latest)
		if err != nil {
			o.logger.Warn("tool execution failed", "conversation_id", req.ConversationID, "error", err)
		} else if toolOut != "" {
			window = append(window, conversation.PromptMessage{
				Role:    conversation.RoleSystem,
				Content: "Relevant context from tools:\n" + toolOut,
			})
		}
	}

	genCtx := ctx
	if o.generationWait > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.generationWait)
		defer cancel()
	}

	return o.relay(genCtx, client, window, emit)
}

// relay runs the provider call in its own goroutine and forwards chunks
// through a bounded channel so a slow consumer backpressures the provider
// instead of buffering unboundedly.
func (o *Orchestrator) relay(ctx context.Context, client *llm.Client, window []conversation.PromptMessage, emit func(string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan string, relayBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		_, err := client.Stream(ctx, window, o.maxTokens, func(chunk string) error {
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errCh <- err
	}()

	var emitErr error
	for chunk := range chunks {
		if emitErr != nil {
			continue
		}
		if err := emit(chunk); err != nil {
			emitErr = err
			cancel()
		}
	}
	streamErr := <-errCh

	if emitErr != nil {
		return emitErr
	}
	return streamErr
}

// generateTitle starts a best-effort background title attempt, seeded by
// the first user message anywhere in the assembled window so stored
// history counts even when the new turns carry no user role. It runs
// detached from the request context so a finished stream does not cancel
// it, re-checks that no concurrent request already set a title, and
// swallows failures.
func (o *Orchestrator) generateTitle(ctx context.Context, client *llm.Client, conversationID uuid.UUID, window []conversation.PromptMessage) {
	seed := firstUserMessage(window)
	if seed == "" {
		return
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		title, err := client.Title(bg, seed, o.titleMaxTokens)
		if err != nil {
			o.logger.Warn("title generation failed", "conversation_id", conversationID, "error", err)
			return
		}

		record, err := o.store.Fetch(bg, conversationID)
		if err != nil {
			o.logger.Warn("title re-check failed", "conversation_id", conversationID, "error", err)
			return
		}
		if record.Title != nil {
			return
		}
		if err := o.store.UpdateTitle(bg, conversationID, title); err != nil {
			o.logger.Warn("title update failed", "conversation_id", conversationID, "error", err)
		}
	}()
}

// dateContext returns a system message carrying today's date when the
// user's input asks about it.
func (o *Orchestrator) dateContext(input string) string {
	lowered := strings.ToLower(input)
	for _, phrase := range datePhrases {
		if strings.Contains(lowered, phrase) {
			return "The current date is " + o.now().Format("January 02, 2006") + "."
		}
	}
	return ""
}

func latestUserTurn(turns []conversation.Payload) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversation.RoleUser || turns[i].Role == "" {
			return turns[i].Content
		}
	}
	return ""
}

// firstUserMessage scans the assembled window, skipping the preamble and
// any other system or assistant messages.
func firstUserMessage(window []conversation.PromptMessage) string {
	for _, msg := range window {
		if msg.Role == conversation.RoleUser && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}
