package oauthserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// handleAuthorize implements the /authorize leg. 1mcp has no interactive
// login of its own (the catalog has no notion of end users distinct from
// the operator); every authorization request is auto-granted against the
// tags named by its scope, echoing the OAuth 2.1 + PKCE mechanics that
// clients (IDEs, agents) already implement for remote MCP servers.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	scope := q.Get("scope")
	state := q.Get("state")
	challenge := q.Get("code_challenge")
	challengeMethod := q.Get("code_challenge_method")
	resource := q.Get("resource")

	var client ClientRecord
	found, err := s.store.Get(r.Context(), kindClient, clientID, &client)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}

	redirectOK := false
	for _, u := range client.RedirectURIs {
		if redirectURIMatches(u, redirectURI) {
			redirectOK = true
			break
		}
	}
	if !redirectOK {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri does not match a registered URI")
		return
	}
	if responseType != "code" {
		redirectError(w, r, redirectURI, state, "unsupported_response_type", "only response_type=code is supported")
		return
	}
	if challenge == "" {
		redirectError(w, r, redirectURI, state, "invalid_request", "code_challenge is required (PKCE)")
		return
	}

	tags, err := s.scopeToTags(r.Context(), scope)
	if err != nil {
		redirectError(w, r, redirectURI, state, "invalid_scope", err.Error())
		return
	}

	rawCode, err := newOpaqueToken(32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	code := "code-" + rawCode
	rec := CodeRecord{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		GrantedTags:         tags,
		CodeChallenge:       challenge,
		CodeChallengeMethod: challengeMethod,
	}
	_ = resource // RFC 8707 audience binding is accepted but not enforced: 1mcp is the only resource it issues tokens for.
	if err := s.store.Put(r.Context(), kindCode, code, rec, authCodeTTL); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, appendQuery(redirectURI, url.Values{"code": {code}, "state": {state}}), http.StatusFound)
}

// scopeToTags resolves a requested scope string into the granted tag set.
// Scopes are space-separated "tag:<name>" tokens, or "preset:<name>"
// resolved through a registered PresetRecord; unknown scopes are permitted
// but ignored (spec §4.8) rather than rejecting the whole authorize
// request, so a client requesting a mix of recognized and unrecognized
// scopes is simply granted the recognized subset.
func (s *Server) scopeToTags(ctx context.Context, scope string) ([]string, error) {
	if scope == "" {
		return nil, nil
	}
	var tags []string
	for _, tok := range strings.Fields(scope) {
		switch {
		case strings.HasPrefix(tok, "tag:"):
			tags = append(tags, strings.TrimPrefix(tok, "tag:"))
		case strings.HasPrefix(tok, "preset:"):
			name := strings.TrimPrefix(tok, "preset:")
			var preset PresetRecord
			found, err := s.store.Get(ctx, kindPreset, name, &preset)
			if err != nil {
				return nil, err
			}
			if !found {
				continue // unrecognized preset: permitted but ignored
			}
			tags = append(tags, preset.Tags...)
		default:
			continue // unrecognized scope token: permitted but ignored
		}
	}
	return tags, nil
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	if redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, code, description)
		return
	}
	http.Redirect(w, r, appendQuery(redirectURI, url.Values{
		"error":             {code},
		"error_description": {description},
		"state":             {state},
	}), http.StatusFound)
}

// appendQuery appends params to base's query string, url-encoding values
// and dropping any param whose value is empty (e.g. an absent state).
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v == "" {
				continue
			}
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
