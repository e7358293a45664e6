package vault

import (
	"context"
	"testing"

	"cove/internal/protocol"
)

func openTest(t *testing.T) *Vault {
	t.Helper()
	v, err := LaunchInMemory()
	if err != nil {
		t.Fatalf("LaunchInMemory: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestLaunchInMemoryIsEphemeral(t *testing.T) {
	v := openTest(t)
	if !v.Ephemeral() {
		t.Error("LaunchInMemory vault should report Ephemeral() = true")
	}
}

func TestEuphAddMessageAndQuery(t *testing.T) {
	v := openTest(t)
	e := v.Euph()
	ctx := context.Background()

	if err := e.AddMessage(ctx, "test", protocol.Message{ID: 1, Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	id, ok, err := e.FirstTreeID(ctx, "test")
	if err != nil || !ok || id != 1 {
		t.Fatalf("FirstTreeID = %d, %v, %v", id, ok, err)
	}
	n, err := e.UnseenCount(ctx, "test")
	if err != nil || n != 1 {
		t.Fatalf("UnseenCount = %d, %v, want 1", n, err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	v := openTest(t)
	if err := v.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestGc(t *testing.T) {
	v := openTest(t)
	if err := v.Gc(context.Background()); err != nil {
		t.Fatalf("Gc: %v", err)
	}
}

func TestCookieJarSharedByReference(t *testing.T) {
	v := openTest(t)
	ctx := context.Background()

	j1, err := v.Jar(ctx, "example.com")
	if err != nil {
		t.Fatalf("Jar: %v", err)
	}
	if err := j1.Set(ctx, []byte("session=abc")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	j2, err := v.Jar(ctx, "example.com")
	if err != nil {
		t.Fatalf("Jar (second lookup): %v", err)
	}
	if j1 != j2 {
		t.Fatal("Jar should return the same instance for the same server")
	}
	if string(j2.Get()) != "session=abc" {
		t.Fatalf("Get = %q, want session=abc", j2.Get())
	}
}

func TestCookiesPersistAcrossLoad(t *testing.T) {
	v := openTest(t)
	ctx := context.Background()

	j, err := v.Jar(ctx, "example.com")
	if err != nil {
		t.Fatalf("Jar: %v", err)
	}
	if err := j.Set(ctx, []byte("a=1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Force a fresh load path by bypassing the cached jar and reading
	// straight from the store the worker owns.
	blob, ok, err := v.store.Cookies(ctx, "example.com")
	if err != nil || !ok || string(blob) != "a=1" {
		t.Fatalf("Cookies = %q, %v, %v, want a=1", blob, ok, err)
	}
}
