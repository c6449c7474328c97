package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayName turns a slug such as "sunset-pier_02" into "Sunset Pier 02".
func DisplayName(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	if len(words) == 0 {
		return ""
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
