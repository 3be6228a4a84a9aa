// Package oauthserver implements 1mcp's own OAuth 2.1 authorization server
// (C8): dynamic client registration (RFC 7591), discovery (RFC 8414, RFC
// 9728), authorization-code + PKCE issuance, and token exchange, scoped to
// the catalog's tag namespace.
package oauthserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"github.com/1mcp/gateway/pkg/mcperrors"
)

// kind namespaces the three record types the store persists (client, code,
// token), plus presets,
// all under the same directory so a single sweeper pass covers everything.
type kind string

const (
	kindClient kind = "client"
	kindCode   kind = "code"
	kindToken  kind = "token"
	kindPreset kind = "preset"
)

var keyRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// record is the on-disk envelope every kind shares, so the sweeper can scan
// generically without decoding each payload type.
type record struct {
	Kind      kind            `json:"kind"`
	Key       string          `json:"key"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is a file-backed, lock-protected key space for OAuth server state.
// Each record lives in its own file so concurrent requests touching
// different clients/codes never contend; a single advisory lock per file
// (gofrs/flock) serializes read-modify-write for that one record.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("oauthserver: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func sanitizeKey(k string) (string, error) {
	if !keyRE.MatchString(k) {
		return "", mcperrors.InvalidRequestError("invalid key")
	}
	return k, nil
}

func (s *Store) path(k kind, key string) (string, error) {
	safe, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", k, safe)), nil
}

func (s *Store) lockPath(p string) string { return p + ".lock" }

// withLock acquires the file's advisory lock, retrying briefly, and runs fn.
func (s *Store) withLock(ctx context.Context, p string, fn func() error) error {
	l := flock.New(s.lockPath(p))
	lctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ok, err := l.TryLockContext(lctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("oauthserver: lock %s: %w", p, err)
	}
	if !ok {
		return fmt.Errorf("oauthserver: timed out locking %s", p)
	}
	defer l.Unlock()
	return fn()
}

// Put writes payload under (k, key) with the given ttl. ttl<=0 means never
// expires (used for client registrations).
func (s *Store) Put(ctx context.Context, k kind, key string, payload any, ttl time.Duration) error {
	p, err := s.path(k, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	rec := record{Kind: k, Key: key, ExpiresAt: expiry, Payload: raw}
	return s.withLock(ctx, p, func() error {
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		tmp := p + ".tmp"
		if err := os.WriteFile(tmp, buf, 0o600); err != nil {
			return err
		}
		return os.Rename(tmp, p)
	})
}

// Get reads the record for (k, key) into out, returning (false, nil) if
// absent or expired. Expired records are deleted on read (expiry-on-read).
func (s *Store) Get(ctx context.Context, k kind, key string, out any) (bool, error) {
	p, err := s.path(k, key)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.withLock(ctx, p, func() error {
		buf, readErr := os.ReadFile(p)
		if os.IsNotExist(readErr) {
			return nil
		}
		if readErr != nil {
			return readErr
		}
		var rec record
		if err := json.Unmarshal(buf, &rec); err != nil {
			return err
		}
		if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
			_ = os.Remove(p)
			return nil
		}
		if err := json.Unmarshal(rec.Payload, out); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Delete removes (k, key) unconditionally; used for one-shot consumption of
// authorization codes and explicit client/token revocation.
func (s *Store) Delete(ctx context.Context, k kind, key string) error {
	p, err := s.path(k, key)
	if err != nil {
		return err
	}
	return s.withLock(ctx, p, func() error {
		err := os.Remove(p)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// Sweep deletes every expired record across all kinds, run periodically by
// a background goroutine (spec C8 "expired records are swept").
func (s *Store) Sweep() (swept int, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".lock" || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		full := filepath.Join(s.dir, e.Name())
		buf, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(buf, &rec); err != nil {
			continue
		}
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			if err := os.Remove(full); err == nil {
				swept++
			}
		}
	}
	return swept, nil
}
