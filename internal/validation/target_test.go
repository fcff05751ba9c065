package validation

import (
	"strings"
	"testing"
)

func TestIsValidTargetURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "instagram profile", url: "https://instagram.com/someuser", want: true},
		{name: "instagram www subdomain", url: "https://www.instagram.com/someuser", want: true},
		{name: "tiktok video", url: "https://www.tiktok.com/@user/video/123", want: true},
		{name: "youtube watch", url: "https://youtube.com/watch?v=abc", want: true},
		{name: "x post", url: "https://x.com/user/status/1", want: true},
		{name: "telegram short link", url: "https://t.me/channel", want: true},
		{name: "plain http allowed", url: "http://facebook.com/page", want: true},
		{name: "unknown domain", url: "https://example.com/profile", want: false},
		{name: "lookalike domain", url: "https://notinstagram.com/user", want: false},
		{name: "domain as path only", url: "https://evil.com/instagram.com", want: false},
		{name: "missing scheme", url: "instagram.com/user", want: false},
		{name: "ftp scheme", url: "ftp://instagram.com/user", want: false},
		{name: "empty string", url: "", want: false},
		{name: "not a url", url: "::::", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidTargetURL(tt.url); got != tt.want {
				t.Fatalf("IsValidTargetURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsValidNotes(t *testing.T) {
	if !IsValidNotes("") {
		t.Fatalf("empty notes must be valid")
	}
	if !IsValidNotes(strings.Repeat("a", MaxNotesLength)) {
		t.Fatalf("notes at limit must be valid")
	}
	if IsValidNotes(strings.Repeat("a", MaxNotesLength+1)) {
		t.Fatalf("notes above limit must be invalid")
	}
}
