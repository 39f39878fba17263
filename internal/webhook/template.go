// Package webhook renders and delivers agent pre-call and post-call webhooks.
package webhook

import (
	"fmt"
	"strconv"
	"strings"
)

// Substitute replaces every {{key}} in tmpl with vars[key].
// Placeholders without a matching key are left as written.
func Substitute(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		closing := strings.Index(rest[open+2:], "}}")
		if closing < 0 {
			b.WriteString(rest)
			return b.String()
		}
		key := rest[open+2 : open+2+closing]
		b.WriteString(rest[:open])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[open : open+2+closing+2])
		}
		rest = rest[open+2+closing+2:]
	}
}

// ResolvePath walks a decoded JSON value along a dotted path such as "data.items.0.id".
// Numeric segments index into arrays.
func ResolvePath(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Assign extracts each assignment's path from a webhook response into a flat variable map.
// Missing paths are skipped.
func Assign(resp any, assignments []Assignment) map[string]string {
	out := map[string]string{}
	for _, a := range assignments {
		if a.Variable == "" {
			continue
		}
		v, ok := ResolvePath(resp, a.Path)
		if !ok {
			continue
		}
		out[a.Variable] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
