package languages

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"en", "en"},
		{"AR", "ar"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{" fr ", "fr"},
		{"", Default},
		{"xx", Default},
		{"english", Default},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := Normalize(tt.tag); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestMessageLanguages_SortedWithNames(t *testing.T) {
	langs := MessageLanguages()
	if len(langs) == 0 {
		t.Fatal("expected message languages")
	}
	for i, l := range langs {
		if l.Code == "" || l.Name == "" {
			t.Errorf("language with empty code or name: %+v", l)
		}
		if i > 0 && langs[i-1].Code >= l.Code {
			t.Errorf("languages not sorted at %d: %s >= %s", i, langs[i-1].Code, l.Code)
		}
	}
	if !IsSupported(Default) || LanguageName("ar") != "Arabic" {
		t.Error("expected default and arabic to be supported")
	}
}
