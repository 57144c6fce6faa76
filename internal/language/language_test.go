package language

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		" EN ":  "en",
		"pt-BR": "pt-BR",
		"":      "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("en"); got != "English" {
		t.Fatalf("DisplayName(en) = %q", got)
	}
	if got := DisplayName("de"); got != "German" {
		t.Fatalf("DisplayName(de) = %q", got)
	}
	if got := DisplayName(""); got != "" {
		t.Fatalf("DisplayName(empty) = %q", got)
	}
}
