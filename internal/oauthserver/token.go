package oauthserver

import (
	"net/http"
	"time"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// handleToken implements the authorization_code grant with mandatory PKCE
// verification and one-shot code consumption (spec C8).
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	clientID := r.PostForm.Get("client_id")
	verifier := r.PostForm.Get("code_verifier")

	var rec CodeRecord
	found, err := s.store.Get(r.Context(), kindCode, code, &rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code is invalid, expired, or already used")
		return
	}
	// Consume immediately regardless of outcome: a code is single-use even
	// if the rest of validation fails (RFC 6749 section 4.1.2).
	_ = s.store.Delete(r.Context(), kindCode, code)

	if rec.ClientID != clientID || rec.RedirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "client_id or redirect_uri mismatch")
		return
	}
	if !verifyPKCE(rec.CodeChallengeMethod, rec.CodeChallenge, verifier) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	rawToken, err := newOpaqueToken(32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	token := "tk-" + rawToken
	tokenRec := TokenRecord{
		ClientID:    clientID,
		Scope:       rec.Scope,
		GrantedTags: rec.GrantedTags,
		IssuedAt:    time.Now(),
	}
	if err := s.store.Put(r.Context(), kindToken, token, tokenRec, accessTokenTTL); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		Scope:       rec.Scope,
	})
}

// handleRevoke implements RFC 7009 token revocation. Revoking an unknown
// token is not an error, per the RFC.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token := r.PostForm.Get("token")
	_ = s.store.Delete(r.Context(), kindToken, token)
	w.WriteHeader(http.StatusOK)
}
