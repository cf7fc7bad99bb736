// Package stats wraps the statistics document a server reports for a
// session and exposes typed, path-based lookups over it.
//
//	s.Get("X/minimum")                          // float64
//	s.Query([]string{"X/minimum", "X/maximum"}) // []any{float64, float64}
//
// Leaves are objects carrying a "value" string and a "type" name; the type
// selects the conversion applied to the value.
package stats

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/codefionn/greyhound/internal/bbox"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrNoRoot       = errors.New("stats: need root object")
	ErrInvalidStats = errors.New("stats: invalid stats document")
	ErrMissingValue = errors.New("stats: missing value")
)

// statsStage is the pipeline stage whose statistic array is exposed.
const statsStage = "filters.stats"

// Stats is a read-only view over a statistics tree.
type Stats struct {
	doc []byte
}

// New wraps an already decoded root object.
func New(root map[string]any) (*Stats, error) {
	if root == nil {
		return nil, ErrNoRoot
	}
	doc, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStats, err)
	}
	return &Stats{doc: doc}, nil
}

// FromJSON wraps a JSON object.
func FromJSON(doc []byte) (*Stats, error) {
	if len(doc) == 0 {
		return nil, ErrNoRoot
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, fmt.Errorf("%w: root is not an object", ErrInvalidStats)
	}
	return &Stats{doc: append([]byte(nil), doc...)}, nil
}

// FromPipelineDocument extracts stages["filters.stats"].statistic from the
// document a server returns for a stats command and keys every entry by
// its name.value.
func FromPipelineDocument(doc []byte) (*Stats, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidStats)
	}
	statistic := gjson.GetBytes(doc, "stages."+gjson.Escape(statsStage)+".statistic")
	if !statistic.IsArray() {
		return nil, fmt.Errorf("%w: no %s statistic array", ErrInvalidStats, statsStage)
	}

	keyed := []byte(`{}`)
	var setErr error
	statistic.ForEach(func(_, entry gjson.Result) bool {
		name := entry.Get("name.value").String()
		if name == "" {
			return true
		}
		keyed, setErr = sjson.SetRawBytes(keyed, escapeKey(name), []byte(entry.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStats, setErr)
	}
	return &Stats{doc: keyed}, nil
}

// Get returns the converted value at a /-separated path, or nil when the
// path is missing, is not a leaf, or has an unknown type.
func (s *Stats) Get(path string) any {
	if path == "" {
		return nil
	}
	node := gjson.GetBytes(s.doc, toPath(path))
	if !node.IsObject() {
		return nil
	}
	value, typ := node.Get("value"), node.Get("type")
	if !value.Exists() || !typ.Exists() {
		return nil
	}
	return coerce(typ.String(), value.String())
}

// Query mirrors the shape of q: a string yields one value, a []string or
// []any yields a slice of the same length, converted recursively. Elements
// of any other type yield nil.
func (s *Stats) Query(q any) any {
	switch v := q.(type) {
	case string:
		return s.Get(v)
	case []string:
		out := make([]any, len(v))
		for i, p := range v {
			out[i] = s.Get(p)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, p := range v {
			out[i] = s.Query(p)
		}
		return out
	default:
		return nil
	}
}

// Mins returns [X/minimum, Y/minimum, Z/minimum].
func (s *Stats) Mins() ([]float64, error) {
	return s.floats("X/minimum", "Y/minimum", "Z/minimum")
}

// Maxs returns [X/maximum, Y/maximum, Z/maximum].
func (s *Stats) Maxs() ([]float64, error) {
	return s.floats("X/maximum", "Y/maximum", "Z/maximum")
}

// BBox is the box spanned by Mins and Maxs.
func (s *Stats) BBox() (bbox.Box, error) {
	mins, err := s.Mins()
	if err != nil {
		return bbox.Box{}, err
	}
	maxs, err := s.Maxs()
	if err != nil {
		return bbox.Box{}, err
	}
	return bbox.New(mins, maxs)
}

// JSON returns a copy of the underlying document.
func (s *Stats) JSON() []byte {
	return append([]byte(nil), s.doc...)
}

func (s *Stats) floats(paths ...string) ([]float64, error) {
	out := make([]float64, len(paths))
	for i, p := range paths {
		switch v := s.Get(p).(type) {
		case float64:
			out[i] = v
		case int64:
			out[i] = float64(v)
		default:
			return nil, fmt.Errorf("%w: %s", ErrMissingValue, p)
		}
	}
	return out, nil
}

func coerce(typ, value string) any {
	switch typ {
	case "nonNegativeInteger":
		n, ok := leadingInt(value)
		if !ok {
			return nil
		}
		return n
	case "float", "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil
		}
		return f
	case "string":
		return value
	case "base64Binary":
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}

// leadingInt parses the integer prefix of v ("12.7" yields 12).
func leadingInt(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	end := 0
	if end < len(v) && (v[end] == '-' || v[end] == '+') {
		end++
	}
	digits := end
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(v[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = gjson.Escape(p)
	}
	return strings.Join(parts, ".")
}

func escapeKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', ':', '*', '?', '\\', '|', '#', '@', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
