package tgui

import "testing"

func TestMentionEscapes(t *testing.T) {
	t.Parallel()
	got := Mention("<Mario & Co>", 42).String()
	want := `<a href="tg://user?id=42">&lt;Mario &amp; Co&gt;</a>`
	if got != want {
		t.Fatalf("Mention=%q want %q", got, want)
	}
}

func TestEscMD(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"mario_rossi": `mario\_rossi`,
		"*bold*":      `\*bold\*`,
		"[x](y)":      `\[x](y)`,
		"plain":       "plain",
	}
	for in, want := range cases {
		if got := EscMD(in); got != want {
			t.Fatalf("EscMD(%q)=%q want %q", in, got, want)
		}
	}
	if got := BoldMD("a_b"); got != `*a\_b*` {
		t.Fatalf("BoldMD=%q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"ciao", 10, "ciao"},
		{"ciao", 4, "ciao"},
		{"ciao mondo", 4, "ciao…"},
		{"àèìòù", 2, "àè…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
