package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// fakeModel implements Generator. It replays chunks through the streaming
// callback and records the messages it was called with.
type fakeModel struct {
	chunks   []string
	response string
	err      error

	calls        int
	lastMessages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.lastMessages = messages

	if f.err != nil {
		return nil, f.err
	}

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.StreamingFunc != nil {
		for _, chunk := range f.chunks {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func TestStreamRelaysChunksInOrder(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel", "lo", "", " world"}}
	client := NewClient(model, log.NewNop())

	var got []string
	full, err := client.Stream(context.Background(),
		[]conversation.PromptMessage{{Role: conversation.RoleUser, Content: "hi"}},
		256,
		func(chunk string) error {
			got = append(got, chunk)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("Stream() failed: %v", err)
	}

	// empty deltas are dropped
	want := []string{"Hel", "lo", " world"}
	if len(got) != len(want) {
		t.Fatalf("received %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
	if full != "Hello world" {
		t.Errorf("accumulated message = %q, want 'Hello world'", full)
	}
}

func TestStreamMapsRoles(t *testing.T) {
	model := &fakeModel{}
	client := NewClient(model, log.NewNop())

	_, err := client.Stream(context.Background(), []conversation.PromptMessage{
		{Role: conversation.RoleSystem, Content: "ctx"},
		{Role: conversation.RoleUser, Content: "q"},
		{Role: conversation.RoleAssistant, Content: "a"},
	}, 256, func(string) error { return nil })
	if err != nil {
		t.Fatalf("Stream() failed: %v", err)
	}

	wantRoles := []llms.ChatMessageType{
		llms.ChatMessageTypeSystem,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
	}
	if len(model.lastMessages) != len(wantRoles) {
		t.Fatalf("sent %d messages, want %d", len(model.lastMessages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if model.lastMessages[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, model.lastMessages[i].Role, want)
		}
	}
}

func TestStreamUpstreamError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection reset")}
	client := NewClient(model, log.NewNop())

	_, err := client.Stream(context.Background(),
		[]conversation.PromptMessage{{Role: conversation.RoleUser, Content: "hi"}},
		256,
		func(string) error { return nil },
	)
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Stream() error = %v, want ErrUpstream", err)
	}
}

func TestStreamEmitErrorStopsRelay(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "b", "c"}}
	client := NewClient(model, log.NewNop())

	consumerGone := errors.New("consumer gone")
	var received int
	partial, err := client.Stream(context.Background(),
		[]conversation.PromptMessage{{Role: conversation.RoleUser, Content: "hi"}},
		256,
		func(string) error {
			received++
			if received == 2 {
				return consumerGone
			}
			return nil
		},
	)

	// consumer loss is returned unwrapped, not as an upstream failure
	if !errors.Is(err, consumerGone) {
		t.Errorf("Stream() error = %v, want the emit error", err)
	}
	if errors.Is(err, ErrUpstream) {
		t.Error("emit error should not be classified as upstream failure")
	}
	if partial != "ab" {
		t.Errorf("partial accumulation = %q, want 'ab'", partial)
	}
}

func TestTitleTrimsQuotes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{name: "plain", response: "Weather in Tokyo", want: "Weather in Tokyo"},
		{name: "double quoted", response: `"Weather in Tokyo"`, want: "Weather in Tokyo"},
		{name: "single quoted", response: `'Weather in Tokyo'`, want: "Weather in Tokyo"},
		{name: "padded", response: "  Weather in Tokyo \n", want: "Weather in Tokyo"},
		{name: "empty falls back", response: "", want: DefaultTitle},
		{name: "only quotes falls back", response: `""`, want: DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{response: tt.response}
			client := NewClient(model, log.NewNop())

			got, err := client.Title(context.Background(), "What's the weather in Tokyo?", 12)
			if err != nil {
				t.Fatalf("Title() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleClampsLength(t *testing.T) {
	model := &fakeModel{response: strings.Repeat("long title ", 20)}
	client := NewClient(model, log.NewNop())

	got, err := client.Title(context.Background(), "seed", 12)
	if err != nil {
		t.Fatalf("Title() failed: %v", err)
	}
	if len([]rune(got)) > titleLengthLimit {
		t.Errorf("title length = %d runes, want at most %d", len([]rune(got)), titleLengthLimit)
	}
}

func TestTitlePromptShape(t *testing.T) {
	model := &fakeModel{response: "A Title"}
	client := NewClient(model, log.NewNop())

	if _, err := client.Title(context.Background(), "What's the weather?", 12); err != nil {
		t.Fatalf("Title() failed: %v", err)
	}

	// system instruction followed by the user request carrying the seed
	if len(model.lastMessages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(model.lastMessages))
	}
	if model.lastMessages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first message role = %q, want system", model.lastMessages[0].Role)
	}
	if model.lastMessages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("second message role = %q, want human", model.lastMessages[1].Role)
	}
	sys := messagePartText(t, model.lastMessages[0])
	if !strings.Contains(sys, "short, descriptive titles") {
		t.Errorf("system message = %q, want the title instruction", sys)
	}
	user := messagePartText(t, model.lastMessages[1])
	if !strings.Contains(user, "What's the weather?") {
		t.Errorf("user message = %q, want it to carry the seed", user)
	}
}

func TestTitleTruncatesSeed(t *testing.T) {
	model := &fakeModel{response: "A Title"}
	client := NewClient(model, log.NewNop())

	longSeed := strings.Repeat("x", 2000)
	if _, err := client.Title(context.Background(), longSeed, 12); err != nil {
		t.Fatalf("Title() failed: %v", err)
	}

	// the prompt embeds at most titleInputLimit runes of the seed
	if len(model.lastMessages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(model.lastMessages))
	}
	user := messagePartText(t, model.lastMessages[1])
	if strings.Contains(user, strings.Repeat("x", titleInputLimit+1)) {
		t.Error("seed was not truncated before prompting")
	}
}

func messagePartText(t *testing.T, msg llms.MessageContent) string {
	t.Helper()
	part, ok := msg.Parts[0].(llms.TextContent)
	if !ok {
		t.Fatalf("unexpected part type %T", msg.Parts[0])
	}
	return part.Text
}

func TestTitleUpstreamError(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	client := NewClient(model, log.NewNop())

	_, err := client.Title(context.Background(), "seed", 12)
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Title() error = %v, want ErrUpstream", err)
	}
}
