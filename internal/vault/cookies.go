package vault

import (
	"context"
	"fmt"
	"sync"

	"cove/internal/store"
)

// cookieJars hands out one CookieJar per server, shared by reference
// across every room connecting to that server (spec.md §5: "Cookies
// are shared by reference across rooms under a standard mutex — short
// critical sections only, no awaits held").
type cookieJars struct {
	mu   sync.Mutex
	byID map[string]*CookieJar
}

func newCookieJars() *cookieJars {
	return &cookieJars{byID: make(map[string]*CookieJar)}
}

// CookieJar holds one server's cookie blob in memory and mirrors it to
// the vault's database. Its own mutex is separate from the vault's
// worker channel: Get reads only the in-memory copy, while Set updates
// it and then waits for the worker to write it to the database.
type CookieJar struct {
	mu     sync.Mutex
	v      *Vault
	server string
	blob   []byte
	loaded bool
}

// Jar returns the shared jar for server, loading it from the database
// on first use.
func (v *Vault) Jar(ctx context.Context, server string) (*CookieJar, error) {
	v.cookies.mu.Lock()
	j, ok := v.cookies.byID[server]
	if !ok {
		j = &CookieJar{v: v, server: server}
		v.cookies.byID[server] = j
	}
	v.cookies.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.loaded {
		return j, nil
	}
	var blob []byte
	if err := v.call(ctx, func(ctx context.Context, st *store.Store) error {
		b, ok, err := st.Cookies(ctx, server)
		if err != nil {
			return err
		}
		if ok {
			blob = b
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("vault: load cookies for %s: %w", server, err)
	}
	j.blob = blob
	j.loaded = true
	return j, nil
}

// Get returns the current cookie blob. Nil means no cookies are known
// yet for this server.
func (j *CookieJar) Get() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.blob
}

// Set replaces the cookie blob and persists it. The in-memory update
// happens immediately under j.mu; the database write happens through
// the vault's worker and may still be in flight when Set returns if
// ctx is cancelled first.
func (j *CookieJar) Set(ctx context.Context, blob []byte) error {
	j.mu.Lock()
	j.blob = blob
	j.mu.Unlock()
	return j.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.SetCookies(ctx, j.server, blob)
	})
}
