package oauthserver

import "time"

// ClientRecord is a dynamically registered OAuth client (RFC 7591).
type ClientRecord struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// CodeRecord is an issued authorization code, consumed exactly once by
// /token (spec C8 "one-shot code consumption").
type CodeRecord struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scope               string   `json:"scope"`
	GrantedTags         []string `json:"granted_tags"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
}

// TokenRecord is an issued bearer access token.
type TokenRecord struct {
	ClientID    string    `json:"client_id"`
	Scope       string    `json:"scope"`
	GrantedTags []string  `json:"granted_tags"`
	IssuedAt    time.Time `json:"issued_at"`
}

// PresetRecord names a reusable scope-to-tag-filter mapping an operator can
// reference from a client's requested scope (e.g. "preset:readonly"),
// distinct from the tag-query presets internal/filter.PresetStore serves to
// already-connected sessions: this one is resolved at token-issuance time.
type PresetRecord struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

const (
	accessTokenTTL = time.Hour
	authCodeTTL    = 5 * time.Minute
)
