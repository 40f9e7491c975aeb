package entity

import "testing"

func TestValidateID(t *testing.T) {
	cases := map[string]bool{
		"":                  false,
		"a":                 true,
		"movie-001":         true,
		"movie_001.v2:x":    true,
		" leadingspace":     false,
		"has space":         false,
		"trailing-dot.":     true,
		"/slash":            false,
	}
	for id, want := range cases {
		if got := ValidateID(id); got != want {
			t.Errorf("ValidateID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestETagRoundTrip(t *testing.T) {
	m := Metadata{Version: []byte{1, 2, 3, 4}}
	etag := m.ETag()
	got, err := VersionFromETag(etag)
	if err != nil {
		t.Fatalf("VersionFromETag: %v", err)
	}
	if !VersionsEqual(got, m.Version) {
		t.Fatalf("round trip mismatch: got %v want %v", got, m.Version)
	}
}

func TestVersionFromETagWildcard(t *testing.T) {
	v, err := VersionFromETag("*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil version for wildcard, got %v", v)
	}
}
