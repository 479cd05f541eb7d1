package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	operatorMaxMessage = 3500
	operatorMaxField   = 600
)

var operatorSkipKeys = map[string]bool{"time": true, "level": true, "message": true, "msg": true}

// formatOperatorJSON turns one zerolog JSON line into a short chat message:
// "[LEVEL] message" followed by one "- key=value" line per field, sorted.
func formatOperatorJSON(p []byte) string {
	line := bytes.TrimSpace(p)
	if len(line) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		return truncate(string(line), operatorMaxMessage)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if !operatorSkipKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), operatorMaxField))
	}
	return truncate(b.String(), operatorMaxMessage)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
