// Package vault implements the persistence lifecycle exposed to the
// core (spec.md §6: launch/launch_in_memory/close/gc). Writes to the
// embedded database are serialized through one worker goroutine reached
// by an unbuffered request channel, so a caller blocks until the worker
// takes its request; the query-surface reads on EuphVault do not go
// through the worker. This follows the single-writer model of spec.md
// §5 and is grounded on the original's src/vault.rs Request/run()
// dedicated-thread design.
package vault

import (
	"context"
	"fmt"
	"sync"

	"cove/internal/euph"
	"cove/internal/forest"
	"cove/internal/protocol"
	"cove/internal/store"
)

var (
	_ euph.Store                                  = (*EuphVault)(nil)
	_ forest.QuerySurface[store.MsgID, store.Msg] = (*EuphVault)(nil)
)

// request is one unit of work handed to the worker goroutine. fn runs
// with exclusive access to the store; errCh carries the one reply.
type request struct {
	fn    func(ctx context.Context, st *store.Store) error
	errCh chan error
}

// Vault is a handle to the running worker; it is safe for concurrent
// use by multiple rooms (spec.md §5 "single-writer, many-reader").
type Vault struct {
	ephemeral bool
	store     *store.Store
	reqCh     chan request
	doneCh    chan struct{}
	closeOnce sync.Once

	cookies *cookieJars
}

// Launch opens (creating if necessary) the database at path and starts
// its worker.
func Launch(path string) (*Vault, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vault: launch: %w", err)
	}
	return launchFromStore(st, false), nil
}

// LaunchInMemory starts a worker over a transient, non-persistent
// database, for ephemeral sessions that opt out of history (spec.md
// §6, original_source/src/vault.rs launch_in_memory).
func LaunchInMemory() (*Vault, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("vault: launch in memory: %w", err)
	}
	return launchFromStore(st, true), nil
}

func launchFromStore(st *store.Store, ephemeral bool) *Vault {
	v := &Vault{
		ephemeral: ephemeral,
		store:     st,
		reqCh:     make(chan request),
		doneCh:    make(chan struct{}),
		cookies:   newCookieJars(),
	}
	go v.run()
	return v
}

// run is the dedicated worker loop: every database access in the
// process passes through here, one at a time.
func (v *Vault) run() {
	defer close(v.doneCh)
	for req := range v.reqCh {
		req.errCh <- req.fn(context.Background(), v.store)
	}
}

// call enqueues fn and blocks for its result. Cancelling ctx abandons
// the wait without affecting the pending work (spec.md §5 "the worker
// still performs the read/write to preserve database consistency").
func (v *Vault) call(ctx context.Context, fn func(ctx context.Context, st *store.Store) error) error {
	req := request{fn: fn, errCh: make(chan error, 1)}
	select {
	case v.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work, lets the worker drain, runs a
// lightweight optimize pass, and closes the underlying database.
func (v *Vault) Close() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.call(context.Background(), func(ctx context.Context, st *store.Store) error {
			return st.Optimize(ctx)
		})
		close(v.reqCh)
		<-v.doneCh
		if cerr := v.store.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// Gc analyzes and vacuums the database. Not on any hot path (spec.md
// §4.D).
func (v *Vault) Gc(ctx context.Context) error {
	return v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.Compact(ctx)
	})
}

// Ephemeral reports whether this vault's contents vanish when it is
// dropped.
func (v *Vault) Ephemeral() bool {
	return v.ephemeral
}

// Events forwards the store's change notifications.
func (v *Vault) Events() <-chan string {
	return v.store.Events()
}

// Euph returns the sub-surface euph.Room uses to archive messages and
// to query history, satisfying euph.Store and forest.QuerySurface.
func (v *Vault) Euph() *EuphVault {
	return &EuphVault{v: v}
}

// EuphVault is the Euphoria-domain face of the vault: the archive side
// of euph.Room (mirrors the original's Vault::euph()).
type EuphVault struct {
	v *Vault
}

// AddMessage archives one message, satisfying euph.Store.
func (e *EuphVault) AddMessage(ctx context.Context, room string, msg protocol.Message) error {
	return e.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.AddMessage(ctx, room, msg)
	})
}

// AddMsgs archives a batch of messages together with the Id span they
// cover (spec.md §4.D add_msgs).
func (e *EuphVault) AddMsgs(ctx context.Context, room string, msgs []protocol.Message, span store.Span) error {
	return e.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.AddMsgs(ctx, room, msgs, span)
	})
}

// Delete removes a room's messages, spans, and seen bits in one
// transaction.
func (e *EuphVault) Delete(ctx context.Context, room string) error {
	return e.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.Delete(ctx, room)
	})
}

// SetSeen updates one message's seen bit.
func (e *EuphVault) SetSeen(ctx context.Context, room string, id store.MsgID, seen bool) error {
	return e.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.SetSeen(ctx, room, id, seen)
	})
}

// SetOlderSeen updates the seen bit for every message with Id <= id.
func (e *EuphVault) SetOlderSeen(ctx context.Context, room string, id store.MsgID, seen bool) error {
	return e.v.call(ctx, func(ctx context.Context, st *store.Store) error {
		return st.SetOlderSeen(ctx, room, id, seen)
	})
}

// Reads bypass the worker channel: spec.md §5 only requires writes to
// be serialized ("readers see each write atomically"), and
// database/sql already synchronizes its own connection pool. The
// query-surface methods below forward straight to the store so
// internal/nav can treat an *EuphVault as a forest.QuerySurface.

func (e *EuphVault) Path(ctx context.Context, room string, id store.MsgID) (forest.Path[store.MsgID], bool, error) {
	return e.v.store.Path(ctx, room, id)
}

func (e *EuphVault) Tree(ctx context.Context, room string, rootID store.MsgID) (*forest.Tree[store.MsgID, store.Msg], bool, error) {
	return e.v.store.Tree(ctx, room, rootID)
}

func (e *EuphVault) FirstTreeID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.FirstTreeID(ctx, room)
}

func (e *EuphVault) LastTreeID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.LastTreeID(ctx, room)
}

func (e *EuphVault) PrevTreeID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.PrevTreeID(ctx, room, id)
}

func (e *EuphVault) NextTreeID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.NextTreeID(ctx, room, id)
}

func (e *EuphVault) OldestMsgID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.OldestMsgID(ctx, room)
}

func (e *EuphVault) NewestMsgID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.NewestMsgID(ctx, room)
}

func (e *EuphVault) OlderMsgID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.OlderMsgID(ctx, room, id)
}

func (e *EuphVault) NewerMsgID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.NewerMsgID(ctx, room, id)
}

func (e *EuphVault) OldestUnseenMsgID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.OldestUnseenMsgID(ctx, room)
}

func (e *EuphVault) NewestUnseenMsgID(ctx context.Context, room string) (store.MsgID, bool, error) {
	return e.v.store.NewestUnseenMsgID(ctx, room)
}

func (e *EuphVault) OlderUnseenMsgID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.OlderUnseenMsgID(ctx, room, id)
}

func (e *EuphVault) NewerUnseenMsgID(ctx context.Context, room string, id store.MsgID) (store.MsgID, bool, error) {
	return e.v.store.NewerUnseenMsgID(ctx, room, id)
}

func (e *EuphVault) UnseenCount(ctx context.Context, room string) (int, error) {
	return e.v.store.UnseenCount(ctx, room)
}

func (e *EuphVault) Children(ctx context.Context, room string, id store.MsgID) ([]store.MsgID, error) {
	return e.v.store.Children(ctx, room, id)
}
