package ai

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// ExtractJSON pulls the JSON document out of a model response, tolerating
// markdown fences and leading or trailing prose.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if gjson.Valid(s) && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
		return s, nil
	}

	pairs := [][2]string{{"{", "}"}, {"[", "]"}}
	if a, o := strings.Index(s, "["), strings.Index(s, "{"); a >= 0 && (o < 0 || a < o) {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}
	for _, pair := range pairs {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
	}
	return "", eris.Wrap(ErrInvalidResponse, "no JSON document in response")
}

// ExtractArray returns the array found at one of keys in a JSON object, or the
// document itself when it is an array.
func ExtractArray(doc string, keys ...string) (gjson.Result, bool) {
	root := gjson.Parse(doc)
	if root.IsArray() {
		return root, true
	}
	for _, k := range keys {
		if v := root.Get(k); v.IsArray() {
			return v, true
		}
	}
	return gjson.Result{}, false
}
