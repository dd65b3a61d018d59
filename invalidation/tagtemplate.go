package invalidation

import (
	"fmt"
	"strings"
)

// TagTemplate resolves a tag name containing "{path}"-style placeholders
// against a set of named arguments, the same substitution shape
// keycodec.EnrichKey uses for context values but applied to tags instead of
// cache-key segments. A rule's Tags list is a set of TagTemplates resolved
// once per matching event, producing the concrete tags TagIndex is queried
// and updated with.
//
// Example: template "user:{user_id}:orders" resolved against
// {"user_id": "42"} yields "user:42:orders".
type TagTemplate struct {
	raw    string
	fields []string // placeholder names found in raw, in order of appearance
}

// NewTagTemplate parses raw into a TagTemplate, recording which
// "{field}" placeholders it references.
func NewTagTemplate(raw string) *TagTemplate {
	t := &TagTemplate{raw: raw}
	rest := raw
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			break
		}
		field := rest[start+1 : start+end]
		t.fields = append(t.fields, field)
		rest = rest[start+end+1:]
	}
	return t
}

// Resolve substitutes every "{field}" placeholder with its value from
// values. Returns an error naming the first field missing from values --
// a template cannot partially resolve, since TagIndex treats tags as
// opaque strings and a half-substituted tag would silently diverge from
// the fully-resolved tag other code paths expect.
func (t *TagTemplate) Resolve(values map[string]string) (string, error) {
	if len(t.fields) == 0 {
		return t.raw, nil
	}

	out := t.raw
	for _, field := range t.fields {
		v, ok := values[field]
		if !ok {
			return "", fmt.Errorf("invalidation: tag template %q missing field %q", t.raw, field)
		}
		out = strings.ReplaceAll(out, "{"+field+"}", v)
	}
	return out, nil
}

// Fields returns the placeholder names this template references.
func (t *TagTemplate) Fields() []string { return t.fields }

// String returns the template's source text.
func (t *TagTemplate) String() string { return t.raw }
