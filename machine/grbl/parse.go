package grbl

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Status is a decoded status report.
//
// Field keys are the report's keys with the first letter lower-cased, e.g.
// "mPos", "fs" or "wco". Values that fail to parse are NaN.
type Status struct {
	Mode   string
	Fields map[string][]float64
}

// Field returns the values for key, or nil.
func (s Status) Field(key string) []float64 { return s.Fields[key] }

// merge returns a copy of s with every field of next laid over it.
func (s Status) merge(next Status) Status {
	res := Status{Mode: s.Mode, Fields: make(map[string][]float64, len(s.Fields)+len(next.Fields))}
	for k, v := range s.Fields {
		res.Fields[k] = v
	}
	for k, v := range next.Fields {
		res.Fields[k] = v
	}
	if next.Mode != "" {
		res.Mode = next.Mode
	}
	return res
}

// MarshalJSON flattens the status into {"mode": ..., "<key>": [...]},
// encoding NaN values as null.
func (s Status) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(s.Fields)+1)
	for k, vals := range s.Fields {
		out := make([]*float64, len(vals))
		for i := range vals {
			if !math.IsNaN(vals[i]) {
				out[i] = &vals[i]
			}
		}
		m[k] = out
	}
	m["mode"] = s.Mode
	return json.Marshal(m)
}

func parseValues(data string) []float64 {
	parts := strings.Split(data, ",")
	res := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			v = math.NaN()
		}
		res[i] = v
	}
	return res
}

func normalizeKey(key string) string {
	r, n := utf8.DecodeRuneInString(key)
	if n == 0 {
		return key
	}
	return string(unicode.ToLower(r)) + key[n:]
}

// ParseStatus decodes a line of the form <Mode|Key:v1,v2|Key2:v1>.
// It never fails; malformed values are recorded as NaN.
func ParseStatus(data string) Status {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")

	stat := Status{
		Mode:   parts[0],
		Fields: make(map[string][]float64, len(parts)-1),
	}
	for _, s := range parts[1:] {
		if s == "" {
			continue
		}
		sParts := strings.SplitN(s, ":", 2)
		key := normalizeKey(sParts[0])
		if len(sParts) == 1 {
			stat.Fields[key] = []float64{}
			continue
		}
		stat.Fields[key] = parseValues(sParts[1])
	}
	return stat
}
