package helpdesk

import (
	"testing"
)

func TestParseLanguage(t *testing.T) {
	cases := []struct {
		in  string
		exp Language
		ok  bool
	}{
		{"en", LanguageEnglish, true},
		{"EN", LanguageEnglish, true},
		{" ru ", LanguageRussian, true},
		{"ru-RU", LanguageRussian, true},
		{"en_GB", LanguageEnglish, true},
		{"", "", false},
		{"-ru", "", false},
		{"de", "", false},
		{"russian", "", false},
	}
	for _, c := range cases {
		lang, ok := ParseLanguage(c.in)
		if ok != c.ok || lang != c.exp {
			t.Fatalf("ParseLanguage(%q) = %q, %v; want %q, %v", c.in, lang, ok, c.exp, c.ok)
		}
	}
}

func TestLanguageName(t *testing.T) {
	if LanguageEnglish.Name() != "English" || LanguageRussian.Name() != "Русский" {
		t.Fatalf("unexpected names")
	}
	if got := Language("de").Name(); got != "de" {
		t.Fatalf("unknown language name should be its code, got %q", got)
	}
	if LanguageDefault != LanguageEnglish {
		t.Fatalf("default language must be English")
	}
}
