package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Encode serializes messages as a JSON array and deflates the result.
// Encode and Decode are exact inverses for any valid message sequence.
func Encode(messages []StoredMessage) ([]byte, error) {
	doc, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encoding messages: %w", err)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(doc); err != nil {
		return nil, fmt.Errorf("compressing messages: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing messages: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. Empty or nil input decodes to an empty
// sequence, not an error; that is how a brand-new conversation looks.
// Decompression or structural failures return ErrCorruptData.
func Decode(blob []byte) ([]StoredMessage, error) {
	if len(blob) == 0 {
		return []StoredMessage{}, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: opening compressed blob: %v", ErrCorruptData, err)
	}
	defer r.Close()

	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing blob: %v", ErrCorruptData, err)
	}

	var messages []StoredMessage
	if err := json.Unmarshal(doc, &messages); err != nil {
		return nil, fmt.Errorf("%w: parsing message document: %v", ErrCorruptData, err)
	}
	if messages == nil {
		messages = []StoredMessage{}
	}
	return messages, nil
}
