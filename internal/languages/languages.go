package languages

import (
	"sort"
	"strings"
)

// Default is used when the viewer's language has no code message template.
const Default = "en"

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	RTL  bool   `json:"rtl,omitempty"`
}

var messageLanguages = map[string]Language{
	"ar": {Code: "ar", Name: "Arabic", RTL: true},
	"de": {Code: "de", Name: "German"},
	"en": {Code: "en", Name: "English"},
	"es": {Code: "es", Name: "Spanish"},
	"fa": {Code: "fa", Name: "Persian", RTL: true},
	"fr": {Code: "fr", Name: "French"},
	"he": {Code: "he", Name: "Hebrew", RTL: true},
	"hi": {Code: "hi", Name: "Hindi"},
	"id": {Code: "id", Name: "Indonesian"},
	"pt": {Code: "pt", Name: "Portuguese"},
	"ru": {Code: "ru", Name: "Russian"},
	"tr": {Code: "tr", Name: "Turkish"},
	"ur": {Code: "ur", Name: "Urdu", RTL: true},
}

func LanguageName(code string) string {
	return messageLanguages[code].Name
}

func IsSupported(code string) bool {
	_, ok := messageLanguages[code]
	return ok
}

// Normalize maps a client language tag ("en-US", "AR") to a supported code,
// falling back to Default.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if base, _, found := strings.Cut(tag, "-"); found {
		tag = base
	} else if base, _, found := strings.Cut(tag, "_"); found {
		tag = base
	}
	if IsSupported(tag) {
		return tag
	}
	return Default
}

func MessageLanguages() []Language {
	langs := make([]Language, 0, len(messageLanguages))
	for _, l := range messageLanguages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Code < langs[j].Code })
	return langs
}
