package storage

import (
	"errors"
	"testing"
)

func TestCleanRelative(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "empty is root", in: "", want: ""},
		{name: "slash is root", in: "/", want: ""},
		{name: "dot is root", in: ".", want: ""},
		{name: "plain", in: "a/b.txt", want: "a/b.txt"},
		{name: "leading slash trimmed", in: "/a/b.txt", want: "a/b.txt"},
		{name: "backslashes normalized", in: `a\b\c.txt`, want: "a/b/c.txt"},
		{name: "duplicate slashes", in: "a//b", want: "a/b"},
		{name: "dot segments", in: "a/./b", want: "a/b"},
		{name: "parent rejected", in: "../x", wantErr: ErrPathTraversal},
		{name: "inner parent rejected", in: "a/../../x", wantErr: ErrPathTraversal},
		{name: "resolvable parent still rejected", in: "a/b/../c", wantErr: ErrPathTraversal},
		{name: "backslash parent rejected", in: `a\..\..\x`, wantErr: ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanRelative(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("cleanRelative(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("cleanRelative(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("cleanRelative(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanFile(t *testing.T) {
	if _, err := cleanFile(""); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("cleanFile(\"\") error = %v, want ErrInvalidPath", err)
	}
	if _, err := cleanFile("/"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("cleanFile(\"/\") error = %v, want ErrInvalidPath", err)
	}
	got, err := cleanFile("x/y")
	if err != nil || got != "x/y" {
		t.Errorf("cleanFile(\"x/y\") = %q, %v", got, err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"", "a.txt", true},
		{"*", "noext", true},
		{"*.*", "noext", true},
		{"*.txt", "a.txt", true},
		{"*.txt", "a.bin", false},
		{"a?.txt", "ab.txt", true},
		{"[", "a", false},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.name); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestValidSegment(t *testing.T) {
	for _, s := range []string{"acme", "room", "tenant-1"} {
		if !validSegment(s) {
			t.Errorf("validSegment(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", ".", "..", "a/b", `a\b`, ".stash-tmp"} {
		if validSegment(s) {
			t.Errorf("validSegment(%q) = true, want false", s)
		}
	}
}
