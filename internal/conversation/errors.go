package conversation

import "errors"

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden indicates the conversation belongs to another owner.
	ErrForbidden = errors.New("conversation owned by another user")

	// ErrCorruptData indicates the stored message blob could not be decoded.
	ErrCorruptData = errors.New("corrupt conversation data")
)
