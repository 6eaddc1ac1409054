// Package auth resolves bearer tokens to principals carrying scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeAll            = "*"
	ScopeWorkspacesRead = "workspaces:ro"
	ScopeWorkspacesRW   = "workspaces:rw"
	ScopeActionsRead    = "actions:ro"
	ScopeEventsRead     = "events:ro"
)

// implied lists the scopes a scope grants on top of itself.
var implied = map[string][]string{
	ScopeWorkspacesRW: {ScopeWorkspacesRead},
}

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	switch strings.TrimSpace(s) {
	case ScopeAll, ScopeWorkspacesRead, ScopeWorkspacesRW, ScopeActionsRead, ScopeEventsRead:
		return true
	}
	return false
}

var (
	ErrNoCredentials        = errors.New("missing Authorization header")
	ErrMalformedCredentials = errors.New("malformed bearer Authorization header")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// ScopeSet is the expanded set of scopes a principal holds.
type ScopeSet map[string]struct{}

// NewScopeSet trims and expands scopes, dropping blanks.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		set[s] = struct{}{}
		for _, extra := range implied[s] {
			set[extra] = struct{}{}
		}
	}
	return set
}

func (s ScopeSet) has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Principal is the caller behind a request.
type Principal struct {
	// Name identifies the credential in logs; never the token itself.
	Name   string
	Scopes ScopeSet
}

// Admin is the principal for the API key, or for every caller when no
// credential is configured.
func Admin() Principal {
	return Principal{Name: "admin", Scopes: NewScopeSet(ScopeAll)}
}

// Allows reports whether p holds at least one of required. No requirement
// always passes.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 || p.Scopes.has(ScopeAll) {
		return true
	}
	for _, s := range required {
		if p.Scopes.has(s) {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedCredentials
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMalformedCredentials
	}
	return token, nil
}

type credential struct {
	secret    []byte
	principal Principal
}

// Keyring holds the configured credentials.
type Keyring struct {
	creds []credential
}

// NewKeyring builds a keyring from the full-access API key and the scoped
// tokens. Empty secrets are skipped.
func NewKeyring(apiKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if apiKey != "" {
		k.creds = append(k.creds, credential{secret: []byte(apiKey), principal: Admin()})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.creds = append(k.creds, credential{
			secret:    []byte(t.Token),
			principal: Principal{Name: "token-" + strconv.Itoa(i), Scopes: NewScopeSet(t.Scopes...)},
		})
	}
	return k
}

// Empty reports whether no credential is configured.
func (k *Keyring) Empty() bool { return len(k.creds) == 0 }

// Lookup returns the principal for a presented token. Every credential is
// compared in constant time.
func (k *Keyring) Lookup(presented string) (Principal, bool) {
	var (
		found Principal
		ok    bool
	)
	if presented == "" {
		return found, false
	}
	p := []byte(presented)
	for _, c := range k.creds {
		if subtle.ConstantTimeCompare(p, c.secret) == 1 && !ok {
			found, ok = c.principal, true
		}
	}
	return found, ok
}

