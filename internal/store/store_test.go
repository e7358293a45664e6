package store

import (
	"context"
	"testing"

	"cove/internal/protocol"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msgIDPtr(id MsgID) *MsgID { return &id }

func seedForest(t *testing.T, s *Store) {
	t.Helper()
	msgs := []protocol.Message{
		{ID: 1, Content: "root"},
		{ID: 2, Parent: msgIDPtr(1), Content: "a"},
		{ID: 3, Parent: msgIDPtr(1), Content: "b"},
		{ID: 4, Parent: msgIDPtr(3), Content: "c"},
		{ID: 5, Content: "root2"},
	}
	if err := s.AddMsgs(context.Background(), "room", msgs, Span{Lo: 1, Hi: 5}); err != nil {
		t.Fatalf("AddMsgs: %v", err)
	}
}

func TestChronologicalTraversal(t *testing.T) {
	s := openTest(t)
	seedForest(t, s)
	ctx := context.Background()

	first, ok, err := s.FirstTreeID(ctx, "room")
	if err != nil || !ok || first != 1 {
		t.Fatalf("FirstTreeID = %d, %v, %v", first, ok, err)
	}
	next, ok, err := s.NextTreeID(ctx, "room", 1)
	if err != nil || !ok || next != 5 {
		t.Fatalf("NextTreeID(1) = %d, %v, %v", next, ok, err)
	}
	path, ok, err := s.Path(ctx, "room", 4)
	if err != nil || !ok {
		t.Fatalf("Path(4): %v, %v", ok, err)
	}
	want := []MsgID{1, 3, 4}
	if len(path) != len(want) {
		t.Fatalf("Path(4) = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("Path(4) = %v, want %v", path, want)
		}
	}
	children, err := s.Children(ctx, "room", 1)
	if err != nil || len(children) != 2 || children[0] != 2 || children[1] != 3 {
		t.Fatalf("Children(1) = %v, %v", children, err)
	}
}

func TestUnseenCount(t *testing.T) {
	s := openTest(t)
	seedForest(t, s)
	ctx := context.Background()

	n, err := s.UnseenCount(ctx, "room")
	if err != nil || n != 5 {
		t.Fatalf("UnseenCount = %d, %v, want 5", n, err)
	}
	if err := s.SetOlderSeen(ctx, "room", 3, true); err != nil {
		t.Fatalf("SetOlderSeen: %v", err)
	}
	n, err = s.UnseenCount(ctx, "room")
	if err != nil || n != 2 {
		t.Fatalf("UnseenCount after SetOlderSeen = %d, %v, want 2", n, err)
	}
}

func TestTreeMaterialization(t *testing.T) {
	s := openTest(t)
	seedForest(t, s)
	ctx := context.Background()

	tree, ok, err := s.Tree(ctx, "room", 1)
	if err != nil || !ok {
		t.Fatalf("Tree(1): %v, %v", ok, err)
	}
	for _, id := range []MsgID{1, 2, 3, 4} {
		if !tree.Contains(id) {
			t.Errorf("tree should contain %d", id)
		}
	}
	if tree.Contains(5) {
		t.Error("tree rooted at 1 should not contain 5")
	}
	if len(tree.Root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(tree.Root.Children))
	}
}

func TestAddMsgsIdempotent(t *testing.T) {
	s := openTest(t)
	seedForest(t, s)
	seedForest(t, s) // re-insert the same forest
	ctx := context.Background()

	n, err := s.UnseenCount(ctx, "room")
	if err != nil || n != 5 {
		t.Fatalf("UnseenCount after re-insert = %d, %v, want 5 (idempotent)", n, err)
	}
}

func TestSpanMergeAdjacentAndOverlapping(t *testing.T) {
	got := mergeSpans([]Span{{1, 3}, {4, 6}, {10, 12}, {6, 8}})
	want := []Span{{1, 8}, {10, 12}}
	if len(got) != len(want) {
		t.Fatalf("mergeSpans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mergeSpans = %v, want %v", got, want)
		}
	}
}

func TestSpanMergeWithTail(t *testing.T) {
	got := mergeSpans([]Span{{1, 5}, {6, TailID}})
	if len(got) != 1 || got[0].Lo != 1 || got[0].Hi != TailID {
		t.Fatalf("mergeSpans with tail = %v, want [{1 TailID}]", got)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := openTest(t)
	seedForest(t, s)
	ctx := context.Background()

	if err := s.Delete(ctx, "room"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.FirstTreeID(ctx, "room"); err != nil || ok {
		t.Fatalf("FirstTreeID after Delete: ok=%v err=%v, want not found", ok, err)
	}
}

func TestCookiesRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, ok, err := s.Cookies(ctx, "example.com"); err != nil || ok {
		t.Fatalf("Cookies before SetCookies: ok=%v err=%v, want not found", ok, err)
	}
	if err := s.SetCookies(ctx, "example.com", []byte("blob-1")); err != nil {
		t.Fatalf("SetCookies: %v", err)
	}
	blob, ok, err := s.Cookies(ctx, "example.com")
	if err != nil || !ok || string(blob) != "blob-1" {
		t.Fatalf("Cookies = %q, %v, %v, want blob-1", blob, ok, err)
	}
}

func TestEventsNotifyOnWrite(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.AddMessage(ctx, "room", protocol.Message{ID: 1, Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	select {
	case room := <-s.Events():
		if room != "room" {
			t.Fatalf("event room = %q, want room", room)
		}
	default:
		t.Fatal("expected an event after AddMessage")
	}
}
