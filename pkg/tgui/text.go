package tgui

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// TruncRunes returns s truncated to at most n runes, with "…" appended when
// something was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// ChunkLines splits text into chunks of at most limit runes, breaking only
// between lines. A single line longer than limit is cut by runes.
func ChunkLines(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		out  []string
		cur  strings.Builder
		size int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			size = 0
		}
	}
	for _, ln := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(ln)
		for n > limit {
			flush()
			head := TruncRunes(ln, limit)
			head = strings.TrimSuffix(head, "…")
			out = append(out, head)
			ln = ln[len(head):]
			n = utf8.RuneCountInString(ln)
		}
		extra := n
		if size > 0 {
			extra++
		}
		if size+extra > limit {
			flush()
			extra = n
		}
		if size > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(ln)
		size += extra
	}
	flush()
	return out
}
