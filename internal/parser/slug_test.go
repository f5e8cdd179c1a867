package parser

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Getting Started", "getting-started"},
		{"  Hello,   World! ", "hello-world"},
		{"C++ API", "c-api"},
		{"Über Café", "uber-cafe"},
		{"snake_case-name", "snake-case-name"},
		{"Version 2.0", "version-20"},
		{"--leading and trailing--", "leading-and-trailing"},
		{"日本語", "日本語"},
		{"ﬁle", "file"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAssignAnchor_Collisions(t *testing.T) {
	b := newBuilder("Doc")
	got := []string{
		b.assignAnchor("", "Examples"),
		b.assignAnchor("", "Examples"),
		b.assignAnchor("", "examples!"),
		b.assignAnchor("", "???"),
		b.assignAnchor("examples-2", ""),
	}
	want := []string{"examples", "examples-2", "examples-3", "section", "examples-2-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("anchor[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(b.warnings) != 3 {
		t.Errorf("expected 3 duplicate warnings, got %d", len(b.warnings))
	}
}
