package hostname

import (
	"strings"
	"testing"
)

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"Example.COM":       "example.com.",
		"example.com.":      "example.com.",
		"  ads.example.io ": "ads.example.io.",
		"":                  "",
		".":                 "",
	}
	for in, want := range cases {
		if got := Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBare(t *testing.T) {
	if got := Bare("example.com."); got != "example.com" {
		t.Errorf("Bare(%q) = %q, want %q", "example.com.", got, "example.com")
	}
	if got := Bare("example.com"); got != "example.com" {
		t.Errorf("Bare(%q) = %q, want %q", "example.com", got, "example.com")
	}
}

func TestValidAccepts(t *testing.T) {
	accepted := []string{
		"a.b",
		"a-b.co",
		"xn--nxasmq6b.jp",
		"example.com",
		"example.com.",
		"sub.domain.example.org",
		strings.Repeat("a", 63) + ".com",
	}
	for _, d := range accepted {
		if !Valid(d) {
			t.Errorf("Expected %q to be valid", d)
		}
	}
}

func TestValidRejects(t *testing.T) {
	rejected := []string{
		"",
		"-a.com",
		"a..b",
		"a.b-",
		"a.com-",
		"localhost",
		"a.123",
		"a_b.com",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("a.", 127) + "com", // 254 chars after trailing-dot strip
	}
	for _, d := range rejected {
		if Valid(d) {
			t.Errorf("Expected %q to be invalid", d)
		}
	}
}

func TestValidLongInput(t *testing.T) {
	// Exactly 253 characters is the upper bound.
	label := strings.Repeat("a", 61)
	long := label + "." + label + "." + label + "." + strings.Repeat("a", 63) + ".com"
	if len(long) <= maxHostnameLength && !Valid(long) {
		t.Errorf("Expected %d-char domain to be valid", len(long))
	}

	tooLong := strings.Repeat("ab.", 84) + "com" // 255 chars
	if Valid(tooLong) {
		t.Errorf("Expected %d-char domain to be invalid", len(tooLong))
	}
}
