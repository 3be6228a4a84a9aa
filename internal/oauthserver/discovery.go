package oauthserver

import "net/http"

// authServerMetadata is the RFC 8414 authorization server metadata document.
type authServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// protectedResourceMetadata is the RFC 9728 protected-resource document the
// gateway exposes at /.well-known/oauth-protected-resource, pointing
// clients at this same server as the authorizer.
type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	meta := authServerMetadata{
		Issuer:                s.issuer,
		AuthorizationEndpoint: s.issuer + "/authorize",
		TokenEndpoint:         s.issuer + "/token",
		RegistrationEndpoint:  s.issuer + "/register",
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		ScopesSupported:                   s.scopesSupported(),
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	meta := protectedResourceMetadata{
		Resource:               s.issuer,
		AuthorizationServers:   []string{s.issuer},
		ScopesSupported:        s.scopesSupported(),
		BearerMethodsSupported: []string{"header"},
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) scopesSupported() []string {
	tags := s.tagsOf()
	scopes := make([]string, 0, len(tags))
	for _, t := range tags {
		scopes = append(scopes, "tag:"+t)
	}
	return scopes
}
