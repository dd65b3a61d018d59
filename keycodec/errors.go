package keycodec

import "errors"

// Sentinel errors returned by KeyCodec validation. Callers should use
// errors.Is against these rather than matching on message text.
var (
	// ErrEmptyKey is returned when a namespace or key part is empty.
	ErrEmptyKey = errors.New("keycodec: key cannot be empty")

	// ErrKeyTooLong is returned when the assembled key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("keycodec: key exceeds maximum length")

	// ErrInvalidCharacter is returned when a key part contains characters
	// that cannot be safely stored by the configured separator scheme.
	ErrInvalidCharacter = errors.New("keycodec: key part contains invalid character")
)
