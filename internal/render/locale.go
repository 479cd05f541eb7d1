package render

import "strings"

// Locale holds the user-visible strings of a card document.
type Locale struct {
	Code    string
	Title   string
	Header  string
	Added   string
	Updated string
	Removed string
	// Sep joins a label and its subject, e.g. "Added: " or "新增：".
	Sep       string
	Publisher string
}

var locales = map[string]Locale{
	"en": {
		Code:      "en",
		Title:     "Market updates",
		Header:    "[Market updates]",
		Added:     "Added",
		Updated:   "Updated",
		Removed:   "Removed",
		Sep:       ": ",
		Publisher: "publisher",
	},
	"zh": {
		Code:      "zh",
		Title:     "插件市场更新",
		Header:    "[插件市场更新]",
		Added:     "新增",
		Updated:   "更新",
		Removed:   "删除",
		Sep:       "：",
		Publisher: "作者",
	},
}

// LookupLocale returns the locale for code; unknown or empty codes fall back
// to English.
func LookupLocale(code string) Locale {
	if l, ok := locales[strings.ToLower(strings.TrimSpace(code))]; ok {
		return l
	}
	return locales["en"]
}

// ValidLocale reports whether code names a known locale.
func ValidLocale(code string) bool {
	_, ok := locales[strings.ToLower(strings.TrimSpace(code))]
	return ok
}
