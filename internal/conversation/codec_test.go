package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
)

func sampleMessages() []StoredMessage {
	return []StoredMessage{
		{
			ID:        "msg-1",
			Role:      RoleUser,
			Content:   "Hello",
			CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:        "msg-2",
			Role:      RoleAssistant,
			Content:   "Hi there, how can I help?",
			CreatedAt: time.Date(2025, 3, 1, 10, 0, 5, 123456789, time.UTC),
			Metadata:  map[string]any{"model": "m1", "tokens": float64(12)},
		},
		{
			ID:        "msg-3",
			Role:      RoleSystem,
			Content:   "",
			CreatedAt: time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC),
		},
	}
}

func assertMessagesEqual(t *testing.T, got, want []StoredMessage) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("message count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID {
			t.Errorf("message %d: ID = %q, want %q", i, g.ID, w.ID)
		}
		if g.Role != w.Role {
			t.Errorf("message %d: Role = %q, want %q", i, g.Role, w.Role)
		}
		if g.Content != w.Content {
			t.Errorf("message %d: Content = %q, want %q", i, g.Content, w.Content)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) {
			t.Errorf("message %d: CreatedAt = %v, want %v", i, g.CreatedAt, w.CreatedAt)
		}
		if g.RawCreatedAt != w.RawCreatedAt {
			t.Errorf("message %d: RawCreatedAt = %q, want %q", i, g.RawCreatedAt, w.RawCreatedAt)
		}
		if len(g.Metadata) != len(w.Metadata) {
			t.Errorf("message %d: metadata size = %d, want %d", i, len(g.Metadata), len(w.Metadata))
			continue
		}
		for k, wv := range w.Metadata {
			if gv, ok := g.Metadata[k]; !ok || gv != wv {
				t.Errorf("message %d: metadata[%q] = %v, want %v", i, k, gv, wv)
			}
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleMessages()

	blob, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("Encode() returned empty blob for non-empty messages")
	}

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	assertMessagesEqual(t, got, want)
}

func TestDecodeEmpty(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{name: "nil", blob: nil},
		{name: "empty", blob: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.blob)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Decode() = %d messages, want 0", len(got))
			}
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	// deflate compress arbitrary bytes for the structurally-broken case
	compress := func(doc []byte) []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(doc); err != nil {
			t.Fatalf("compressing test doc: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("closing test writer: %v", err)
		}
		return buf.Bytes()
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "not compressed", blob: []byte("plain garbage")},
		{name: "compressed non-JSON", blob: compress([]byte("still not JSON"))},
		{name: "compressed wrong shape", blob: compress([]byte(`{"not":"an array"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			if !errors.Is(err, ErrCorruptData) {
				t.Errorf("Decode() error = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestDecodeLenientTimestamp(t *testing.T) {
	// A message whose created_at is not ISO-8601 must survive decode with
	// the raw text preserved instead of failing the whole blob.
	doc, err := json.Marshal([]wireMessage{
		{ID: "msg-1", Role: RoleUser, Content: "hi", CreatedAt: "yesterday at noon"},
		{ID: "msg-2", Role: RoleAssistant, Content: "hello", CreatedAt: "2025-03-01T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("marshaling test doc: %v", err)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(doc); err != nil {
		t.Fatalf("compressing test doc: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing test writer: %v", err)
	}

	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Decode() = %d messages, want 2", len(got))
	}

	if got[0].RawCreatedAt != "yesterday at noon" {
		t.Errorf("RawCreatedAt = %q, want the original text", got[0].RawCreatedAt)
	}
	if !got[0].CreatedAt.IsZero() {
		t.Errorf("CreatedAt should be zero for unparsable timestamp, got %v", got[0].CreatedAt)
	}

	if got[1].RawCreatedAt != "" {
		t.Errorf("RawCreatedAt should be empty for valid timestamp, got %q", got[1].RawCreatedAt)
	}
	if got[1].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set for valid timestamp")
	}
}

func TestRoundTripPreservesRawTimestamp(t *testing.T) {
	msgs := []StoredMessage{
		{ID: "msg-1", Role: RoleUser, Content: "hi", RawCreatedAt: "not a timestamp"},
	}

	blob, err := Encode(msgs)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	assertMessagesEqual(t, got, msgs)
}

func TestEncodeEmpty(t *testing.T) {
	blob, err := Encode([]StoredMessage{})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Decode(Encode([])) = %d messages, want 0", len(got))
	}
}
