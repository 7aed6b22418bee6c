package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTargetID(t *testing.T) {
	cases := []struct {
		id string
		ok bool
	}{
		{"C9xYz_1-ab", true},
		{strings.Repeat("a", MaxTargetIDLen), true},
		{"", false},
		{"abc/def", false},
		{"abc?x=1", false},
		{"a.b", false},
		{"é", false},
		{strings.Repeat("a", MaxTargetIDLen+1), false},
	}
	for _, tc := range cases {
		id, ok := tc.id, tc.ok
		err := ValidateTargetID(id)
		if ok && err != nil {
			t.Errorf("ValidateTargetID(%q) = %v, want nil", id, err)
		}
		if !ok && !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("ValidateTargetID(%q) = %v, want ErrInvalidTarget", id, err)
		}
	}
}

func TestValidateServiceURL(t *testing.T) {
	for _, raw := range []string{"http://127.0.0.1:8000", "http://ocr.local:8000/api", "https://example.com"} {
		if err := ValidateServiceURL(raw); err != nil {
			t.Errorf("ValidateServiceURL(%q) = %v", raw, err)
		}
	}
	for _, raw := range []string{"ftp://example.com", "javascript:alert(1)", "http://", "::"} {
		if err := ValidateServiceURL(raw); err == nil {
			t.Errorf("ValidateServiceURL(%q) = nil, want error", raw)
		}
	}
	if err := ValidateServiceURL("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("file URL: %v, want ErrUnsafeScheme", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("at limit: %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("over limit: %v, want ErrTooLarge", err)
	}
}
