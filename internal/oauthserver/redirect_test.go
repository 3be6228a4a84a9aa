package oauthserver

import "testing"

func TestIsLoopbackRedirectURI(t *testing.T) {
	cases := map[string]bool{
		"http://127.0.0.1:51234/cb": true,
		"http://localhost:9999/cb":  true,
		"http://[::1]:4000/cb":      true,
		"https://127.0.0.1/cb":      false,
		"http://example.com/cb":     false,
		"not a url at all":          false,
	}
	for uri, want := range cases {
		if got := isLoopbackRedirectURI(uri); got != want {
			t.Errorf("isLoopbackRedirectURI(%q) = %v, want %v", uri, got, want)
		}
	}
}

func TestRedirectURIMatchesIgnoresPort(t *testing.T) {
	if !redirectURIMatches("http://127.0.0.1:51234/cb", "http://127.0.0.1:9999/cb") {
		t.Error("expected loopback redirect URIs to match ignoring port")
	}
	if redirectURIMatches("http://127.0.0.1:51234/cb", "http://127.0.0.1:9999/other") {
		t.Error("expected different paths not to match")
	}
	if redirectURIMatches("http://127.0.0.1:51234/cb", "http://example.com:51234/cb") {
		t.Error("expected non-loopback host not to match")
	}
}
