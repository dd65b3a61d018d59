package keycodec

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Fingerprint deterministically serializes a loader's arguments into a short,
// stable string suitable for appending to a cache key. Two calls with
// arguments that are deeply equal, regardless of map key iteration order,
// always produce the same fingerprint.
//
// args is typically a struct or a map[string]interface{} of loader
// parameters (pagination cursor, filter set, sort order, ...). A nil field or
// a nil map entry serializes as JSON null; Go has no "undefined" distinct
// from nil, so that half of the canonical-serialization contract collapses
// to "treat nil the same as an explicit null" here.
func Fingerprint(args interface{}) (string, error) {
	canonical, err := canonicalize(args)
	if err != nil {
		return "", fmt.Errorf("keycodec: fingerprint failed: %w", err)
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("keycodec: fingerprint failed: %w", err)
	}

	sum := sha256.Sum256(data)
	// base32 avoids the "/" and "+" characters base64 would introduce, both
	// of which are awkward inside a colon-delimited cache key.
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])), nil
}

// canonicalize walks v and produces a structure whose JSON encoding is
// independent of Go map iteration order: every map becomes a sorted slice of
// [key, value] pairs, and every struct becomes a slice of [name, value] pairs
// for its exported fields (JSON tag name where present), also sorted by
// name, so field declaration order does not affect the result either.
func canonicalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		return canonicalizeMap(rv)
	case reflect.Slice, reflect.Array:
		return canonicalizeSlice(rv)
	case reflect.Struct:
		return canonicalizeStruct(rv)
	default:
		return rv.Interface(), nil
	}
}

func canonicalizeMap(rv reflect.Value) (interface{}, error) {
	keys := rv.MapKeys()
	type pair struct {
		Key string
		Val interface{}
	}
	pairs := make([]pair, 0, len(keys))
	for _, k := range keys {
		keyStr := fmt.Sprintf("%v", k.Interface())
		val, err := canonicalize(rv.MapIndex(k).Interface())
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{Key: keyStr, Val: val})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	out := make(map[string]interface{}, len(pairs))
	order := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Val
		order = append(order, p.Key)
	}
	// Encode as an ordered list of pairs rather than a map so that the
	// resulting JSON text -- not just the decoded value -- is order
	// independent; encoding/json would otherwise re-sort map[string]any
	// keys itself, which happens to match here but isn't a contract we
	// should depend on.
	ordered := make([][2]interface{}, 0, len(pairs))
	for _, k := range order {
		ordered = append(ordered, [2]interface{}{k, out[k]})
	}
	return ordered, nil
}

func canonicalizeSlice(rv reflect.Value) (interface{}, error) {
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := canonicalize(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func canonicalizeStruct(rv reflect.Value) (interface{}, error) {
	t := rv.Type()
	ordered := make([][2]interface{}, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}
		v, err := canonicalize(rv.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, [2]interface{}{name, v})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i][0].(string) < ordered[j][0].(string)
	})
	return ordered, nil
}
