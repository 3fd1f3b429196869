package achievements

import (
	"strconv"
	"strings"
)

// Messages looks up localized display text by key.
type Messages interface {
	Message(key string) (string, bool)
}

// MessageMap is a static Messages table.
type MessageMap map[string]string

func (m MessageMap) Message(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// resolve returns the first key msgs knows, then the first non-empty
// fallback.
func resolve(msgs Messages, keys []string, fallbacks ...string) string {
	if msgs != nil {
		for _, key := range keys {
			if key == "" {
				continue
			}
			if v, ok := msgs.Message(key); ok {
				return v
			}
		}
	}
	for _, f := range fallbacks {
		if f != "" {
			return f
		}
	}
	return ""
}

func substituteLevel(s string, level int) string {
	return strings.ReplaceAll(s, "$level", strconv.Itoa(level))
}
