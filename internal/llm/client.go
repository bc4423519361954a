// Package llm wraps the OpenAI-compatible generation provider behind a
// small client used for streaming chat completions and one-shot titles.
//
// Credentials are supplied per request by the caller; the process never
// holds a long-lived upstream token.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// ErrUpstream indicates the generation provider failed before or during a
// call. Surfaced as a 502-equivalent when nothing has been streamed yet.
var ErrUpstream = errors.New("upstream generation failure")

const (
	// titleTimeout bounds the one-shot title call so a slow provider
	// cannot hold the background task open indefinitely.
	titleTimeout = 10 * time.Second

	// titleInputLimit truncates the seed message fed to title generation.
	titleInputLimit = 500

	// titleLengthLimit clamps the generated title.
	titleLengthLimit = 80

	// DefaultTitle is used when the provider returns an empty title.
	DefaultTitle = "Untitled Conversation"
)

// Generator is the subset of the langchaingo model interface the client
// needs. *openai.LLM satisfies it; tests substitute a fake.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client talks to one model at one provider endpoint.
type Client struct {
	model  Generator
	logger log.Logger
}

// Factory builds a Client for a model id and caller-supplied token.
// The orchestrator constructs one client per request because the token
// arrives with the request.
type Factory func(modelID, token string) (*Client, error)

// NewFactory returns a Factory bound to the given provider base URL.
func NewFactory(baseURL string, logger log.Logger) Factory {
	return func(modelID, token string) (*Client, error) {
		model, err := openai.New(
			openai.WithToken(token),
			openai.WithBaseURL(baseURL),
			openai.WithModel(modelID),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: creating client for %s: %v", ErrUpstream, modelID, err)
		}
		return NewClient(model, logger), nil
	}
}

// NewClient wraps an existing model. Used directly in tests.
func NewClient(model Generator, logger log.Logger) *Client {
	return &Client{model: model, logger: logger}
}

// Stream generates a completion for the prompt window, invoking emit for
// each non-empty text delta in arrival order, and returns the accumulated
// assistant message. An error from emit aborts the provider call and is
// returned unwrapped so the caller can tell consumer loss from provider
// failure; provider failures are wrapped in ErrUpstream.
func (c *Client) Stream(ctx context.Context, window []conversation.PromptMessage, maxTokens int, emit func(chunk string) error) (string, error) {
	var sb strings.Builder
	var emitErr error

	_, err := c.model.GenerateContent(ctx, toContent(window),
		llms.WithMaxTokens(maxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			sb.Write(chunk)
			if err := emit(string(chunk)); err != nil {
				emitErr = err
				return err
			}
			return nil
		}),
	)
	if emitErr != nil {
		return sb.String(), emitErr
	}
	if err != nil {
		return sb.String(), fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return sb.String(), nil
}

// Title generates a short conversation title from the first user message.
// Best-effort: bounded by its own timeout, clamped in length, and never
// empty on success.
func (c *Client) Title(ctx context.Context, firstUserMessage string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	seed := firstUserMessage
	if runes := []rune(seed); len(runes) > titleInputLimit {
		seed = string(runes[:titleInputLimit])
	}

	prompt := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem,
			"You are an assistant that creates short, descriptive titles for conversations."),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"Generate a short concise title for the following: "+seed),
	}

	resp, err := c.model.GenerateContent(ctx, prompt, llms.WithMaxTokens(maxTokens))
	if err != nil {
		return "", fmt.Errorf("%w: generating title: %v", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: title response had no choices", ErrUpstream)
	}

	title := strings.TrimSpace(resp.Choices[0].Content)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > titleLengthLimit {
		title = strings.TrimSpace(string(runes[:titleLengthLimit]))
	}
	if title == "" {
		title = DefaultTitle
	}
	return title, nil
}

// toContent maps prompt messages onto the provider's message shape.
func toContent(window []conversation.PromptMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(window))
	for _, msg := range window {
		var role llms.ChatMessageType
		switch msg.Role {
		case conversation.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case conversation.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}
