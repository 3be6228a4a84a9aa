package oauthserver

import "net/url"

// isLoopbackRedirectURI reports whether u is a loopback interface redirect
// URI per RFC 8252 section 7.3: native apps use "http" to a loopback
// address, and the authorization server must allow any port since the app
// picks one at runtime.
func isLoopbackRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" {
		return false
	}
	switch u.Hostname() {
	case "127.0.0.1", "::1", "localhost":
		return true
	default:
		return false
	}
}

// redirectURIMatches compares a requested redirect_uri against a registered
// one, ignoring port per RFC 8252 section 7.3 (the port is chosen at
// listen-time by the native app and cannot be fixed at registration time).
func redirectURIMatches(registered, requested string) bool {
	if registered == requested {
		return true
	}
	ru, err1 := url.Parse(registered)
	qu, err2 := url.Parse(requested)
	if err1 != nil || err2 != nil {
		return false
	}
	if !isLoopbackRedirectURI(registered) || !isLoopbackRedirectURI(requested) {
		return false
	}
	return ru.Scheme == qu.Scheme && ru.Hostname() == qu.Hostname() && ru.Path == qu.Path
}
