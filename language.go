package helpdesk

import "strings"

// Language is a language code in ISO 639-1 format.
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageEnglish Language = "en"

	// LanguageDefault is used for users that have not chosen a language yet.
	LanguageDefault = LanguageEnglish
)

// SupportedLanguages are the languages users can choose from, in picker order.
var SupportedLanguages = []Language{LanguageEnglish, LanguageRussian}

// ParseLanguage returns a supported language from a code like "ru", "RU" or "ru-RU".
func ParseLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	for _, l := range SupportedLanguages {
		if string(l) == code {
			return l, true
		}
	}
	return "", false
}

func (l Language) String() string {
	return string(l)
}

// Name returns the language name written in this language.
func (l Language) Name() string {
	switch l {
	case LanguageRussian:
		return "Русский"
	case LanguageEnglish:
		return "English"
	default:
		return string(l)
	}
}
