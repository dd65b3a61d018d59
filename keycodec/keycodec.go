// Package keycodec builds and validates the cache keys used by every layer of
// cachecore (L1Store, L2Store, TagIndex). A key is always produced by this
// package, never hand-assembled by a caller, so that prefixing, versioning
// and multi-tenant context enrichment stay consistent across L1 and L2.
//
// Design Choices:
//   - Keys are [prefix:][vN:]namespace:parts[...] joined with Separator, the same
//     colon-delimited shape the rest of the corpus uses for cache keys
//     ("user:123", "users:*").
//   - Validation happens once at BuildKey time; callers never need to
//     re-validate a key they got back from this package.
//   - Context enrichment (EnrichKey) is appended as a suffix segment rather
//     than folded into the namespace, so a codec with no ContextProvider
//     configured produces byte-identical keys to one that has a no-op
//     provider.
package keycodec

import (
	"regexp"
	"strconv"
	"strings"
)

// validKeyPattern is the allowed alphabet for an assembled key: letters,
// digits, underscore, hyphen, dot, slash and the segment separator. Any
// other character -- including any whitespace -- fails validation.
var validKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./:]+$`)

// DefaultMaxKeyLength bounds the assembled key length. Redis itself allows
// keys up to 512MB, but most client libraries and the rest of this corpus
// assume keys stay well under 1KB for predictable memory accounting.
const DefaultMaxKeyLength = 1024

// DefaultSeparator joins namespace, version and key parts.
const DefaultSeparator = ":"

// Config holds runtime configuration for a KeyCodec.
type Config struct {
	// Prefix is prepended to every key produced by this codec, e.g. an
	// application or tenant-wide namespace ("billing", "checkout-svc").
	Prefix string
	// Version is appended after Prefix so that a cache-format change can be
	// rolled out without colliding with keys written by the previous format.
	Version int
	// Separator joins Prefix, Version and key parts. Defaults to ":".
	Separator string
	// MaxKeyLength bounds the final key length. Defaults to DefaultMaxKeyLength.
	MaxKeyLength int
}

// DefaultConfig returns a Config with the corpus's usual colon-delimited,
// unversioned-by-default shape.
func DefaultConfig() Config {
	return Config{
		Separator:    DefaultSeparator,
		MaxKeyLength: DefaultMaxKeyLength,
	}
}

// KeyCodec builds and validates cache keys for CacheService. It is safe for
// concurrent use -- it holds no mutable state once constructed.
type KeyCodec struct {
	prefix       string
	version      int
	separator    string
	maxKeyLength int
	ctxProvider  ContextProvider
}

// New creates a KeyCodec from Config. A nil ContextProvider disables context
// enrichment (BuildKey behaves as if no request context were ever supplied).
func New(cfg Config, ctxProvider ContextProvider) *KeyCodec {
	sep := cfg.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	maxLen := cfg.MaxKeyLength
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLength
	}
	return &KeyCodec{
		prefix:       cfg.Prefix,
		version:      cfg.Version,
		separator:    sep,
		maxKeyLength: maxLen,
		ctxProvider:  ctxProvider,
	}
}

// BuildKey assembles a cache key from a namespace and one or more parts, e.g.
// BuildKey("user", "123", "profile") -> "myapp:v2:user:123:profile". If the
// codec has a ContextProvider configured, EnrichKey is applied before the
// length check so callers never see a truncated-by-context key pass
// validation silently.
func (c *KeyCodec) BuildKey(namespace string, parts ...string) (string, error) {
	if namespace == "" {
		return "", ErrEmptyKey
	}
	for _, p := range parts {
		if p == "" {
			return "", ErrEmptyKey
		}
		if strings.ContainsAny(p, "\r\n") {
			return "", ErrInvalidCharacter
		}
	}

	segments := make([]string, 0, len(parts)+3)
	if c.prefix != "" {
		segments = append(segments, c.prefix)
	}
	if c.version != 0 {
		segments = append(segments, "v"+strconv.Itoa(c.version))
	}
	segments = append(segments, namespace)
	segments = append(segments, parts...)

	key := strings.Join(segments, c.separator)

	if c.ctxProvider != nil {
		key = EnrichKey(key, c.ctxProvider.Values())
	}

	if err := c.Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// Validate checks an already-assembled key against this codec's constraints.
// Used both internally by BuildKey and by callers that receive keys from
// elsewhere (e.g. a TagIndex replaying stored members).
func (c *KeyCodec) Validate(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > c.maxKeyLength {
		return ErrKeyTooLong
	}
	if !validKeyPattern.MatchString(key) {
		return ErrInvalidCharacter
	}
	return nil
}

// Prefix returns the namespace prefix this codec applies to every key.
func (c *KeyCodec) Prefix() string { return c.prefix }

// Version returns the key-format version this codec applies to every key.
func (c *KeyCodec) Version() int { return c.version }
