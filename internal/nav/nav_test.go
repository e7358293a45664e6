package nav

import (
	"context"
	"testing"

	"cove/internal/forest"
)

// testMsg and fakeSurface reproduce the same five-message forest used
// by internal/store's tests (1 root, 2 and 3 children of 1, 4 a child
// of 3, 5 a second root), so the traversal here can be checked against
// the same known shape: pre-order 1, 2, 3, 4, 5.
type testMsg struct {
	id     int
	parent int
	hasPar bool
}

func (m testMsg) MsgID() int { return m.id }
func (m testMsg) ParentID() (int, bool) {
	if !m.hasPar {
		return 0, false
	}
	return m.parent, true
}

type fakeSurface struct {
	msgs map[int]testMsg
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{msgs: map[int]testMsg{
		1: {id: 1},
		2: {id: 2, parent: 1, hasPar: true},
		3: {id: 3, parent: 1, hasPar: true},
		4: {id: 4, parent: 3, hasPar: true},
		5: {id: 5},
	}}
}

func (f *fakeSurface) Path(ctx context.Context, room string, id int) (forest.Path[int], bool, error) {
	m, ok := f.msgs[id]
	if !ok {
		return nil, false, nil
	}
	var path forest.Path[int]
	for {
		path = append(forest.Path[int]{m.id}, path...)
		if !m.hasPar {
			break
		}
		m = f.msgs[m.parent]
	}
	return path, true, nil
}

func (f *fakeSurface) Tree(ctx context.Context, room string, rootID int) (*forest.Tree[int, testMsg], bool, error) {
	return nil, false, nil
}

func (f *fakeSurface) roots() []int {
	var ids []int
	for id, m := range f.msgs {
		if !m.hasPar {
			ids = append(ids, id)
		}
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	return ids
}

func (f *fakeSurface) FirstTreeID(ctx context.Context, room string) (int, bool, error) {
	roots := f.roots()
	if len(roots) == 0 {
		return 0, false, nil
	}
	return roots[0], true, nil
}

func (f *fakeSurface) LastTreeID(ctx context.Context, room string) (int, bool, error) {
	roots := f.roots()
	if len(roots) == 0 {
		return 0, false, nil
	}
	return roots[len(roots)-1], true, nil
}

func (f *fakeSurface) PrevTreeID(ctx context.Context, room string, id int) (int, bool, error) {
	var best int
	found := false
	for _, r := range f.roots() {
		if r < id && (!found || r > best) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (f *fakeSurface) NextTreeID(ctx context.Context, room string, id int) (int, bool, error) {
	var best int
	found := false
	for _, r := range f.roots() {
		if r > id && (!found || r < best) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (f *fakeSurface) OldestMsgID(ctx context.Context, room string) (int, bool, error) {
	return f.minMax(false)
}
func (f *fakeSurface) NewestMsgID(ctx context.Context, room string) (int, bool, error) {
	return f.minMax(true)
}

func (f *fakeSurface) minMax(max bool) (int, bool, error) {
	if len(f.msgs) == 0 {
		return 0, false, nil
	}
	first := true
	var best int
	for id := range f.msgs {
		if first || (max && id > best) || (!max && id < best) {
			best, first = id, false
		}
	}
	return best, true, nil
}

func (f *fakeSurface) OlderMsgID(ctx context.Context, room string, id int) (int, bool, error) {
	var best int
	found := false
	for other := range f.msgs {
		if other < id && (!found || other > best) {
			best, found = other, true
		}
	}
	return best, found, nil
}

func (f *fakeSurface) NewerMsgID(ctx context.Context, room string, id int) (int, bool, error) {
	var best int
	found := false
	for other := range f.msgs {
		if other > id && (!found || other < best) {
			best, found = other, true
		}
	}
	return best, found, nil
}

func (f *fakeSurface) OldestUnseenMsgID(ctx context.Context, room string) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeSurface) NewestUnseenMsgID(ctx context.Context, room string) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeSurface) OlderUnseenMsgID(ctx context.Context, room string, id int) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeSurface) NewerUnseenMsgID(ctx context.Context, room string, id int) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeSurface) UnseenCount(ctx context.Context, room string) (int, error) {
	return 0, nil
}

func (f *fakeSurface) Children(ctx context.Context, room string, id int) ([]int, error) {
	var kids []int
	for other, m := range f.msgs {
		if m.hasPar && m.parent == id {
			kids = append(kids, other)
		}
	}
	for i := 0; i < len(kids); i++ {
		for j := i + 1; j < len(kids); j++ {
			if kids[j] < kids[i] {
				kids[i], kids[j] = kids[j], kids[i]
			}
		}
	}
	return kids, nil
}

var _ forest.QuerySurface[int, testMsg] = (*fakeSurface)(nil)

func newTestState() *State[int, testMsg] {
	return New[int, testMsg](newFakeSurface(), "room")
}

func TestMoveCursorDownWalksPreOrderAcrossTrees(t *testing.T) {
	ctx := context.Background()
	s := newTestState()

	if err := s.MoveCursorToTop(ctx); err != nil {
		t.Fatalf("MoveCursorToTop: %v", err)
	}
	want := []int{1, 2, 3, 4, 5}
	if s.Cursor().ID != want[0] {
		t.Fatalf("start = %d, want %d", s.Cursor().ID, want[0])
	}
	for _, id := range want[1:] {
		if err := s.MoveCursorDown(ctx); err != nil {
			t.Fatalf("MoveCursorDown: %v", err)
		}
		if s.Cursor().Kind != CursorMsg || s.Cursor().ID != id {
			t.Fatalf("cursor = %+v, want msg %d", s.Cursor(), id)
		}
	}
	// one more step past the last message goes to Bottom.
	if err := s.MoveCursorDown(ctx); err != nil {
		t.Fatalf("MoveCursorDown past end: %v", err)
	}
	if s.Cursor().Kind != CursorBottom {
		t.Fatalf("cursor = %+v, want Bottom", s.Cursor())
	}
}

func TestMoveCursorUpWalksPreOrderBackwards(t *testing.T) {
	ctx := context.Background()
	s := newTestState()

	s.SnapToVisible(5)
	want := []int{4, 3, 2, 1}
	for _, id := range want {
		if err := s.MoveCursorUp(ctx); err != nil {
			t.Fatalf("MoveCursorUp: %v", err)
		}
		if s.Cursor().ID != id {
			t.Fatalf("cursor = %+v, want msg %d", s.Cursor(), id)
		}
	}
	// at the very first message, moving up again is a no-op.
	if err := s.MoveCursorUp(ctx); err != nil {
		t.Fatalf("MoveCursorUp at top: %v", err)
	}
	if s.Cursor().ID != 1 {
		t.Fatalf("cursor = %+v, want still msg 1", s.Cursor())
	}
}

func TestMoveCursorUpFromBottomUsesPreOrderLast(t *testing.T) {
	ctx := context.Background()
	// Tree rooted at 1 has a deep, high-Id reply (10); tree rooted at 5
	// has no replies at all. The highest Id in the whole forest (10) is
	// not the pre-order-last message (5 is) — Up from Bottom must land
	// on 5, not teleport to whatever has the highest Id.
	f := &fakeSurface{msgs: map[int]testMsg{
		1:  {id: 1},
		2:  {id: 2, parent: 1, hasPar: true},
		3:  {id: 3, parent: 1, hasPar: true},
		10: {id: 10, parent: 3, hasPar: true},
		5:  {id: 5},
	}}
	s := New[int, testMsg](f, "room")

	if err := s.MoveCursorUp(ctx); err != nil {
		t.Fatalf("MoveCursorUp: %v", err)
	}
	if s.Cursor().Kind != CursorMsg || s.Cursor().ID != 5 {
		t.Fatalf("cursor = %+v, want msg 5 (pre-order last), not the highest Id", s.Cursor())
	}
}

func TestMoveCursorNewerFromBottomIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestState()

	if err := s.MoveCursorNewer(ctx); err != nil {
		t.Fatalf("MoveCursorNewer: %v", err)
	}
	if s.Cursor().Kind != CursorBottom {
		t.Fatalf("cursor = %+v, want still Bottom (nothing is newer than Bottom)", s.Cursor())
	}
}

func TestMoveCursorNewerWalksChronologically(t *testing.T) {
	ctx := context.Background()
	s := newTestState()
	s.SnapToVisible(2)

	if err := s.MoveCursorNewer(ctx); err != nil {
		t.Fatalf("MoveCursorNewer: %v", err)
	}
	if s.Cursor().ID != 3 {
		t.Fatalf("cursor = %+v, want msg 3 (chronological, not tree, successor)", s.Cursor())
	}
}

func TestMoveCursorOlderIgnoresTreeStructure(t *testing.T) {
	ctx := context.Background()
	s := newTestState()
	s.SnapToVisible(5)

	if err := s.MoveCursorOlder(ctx); err != nil {
		t.Fatalf("MoveCursorOlder: %v", err)
	}
	if s.Cursor().ID != 4 {
		t.Fatalf("cursor = %+v, want msg 4 (chronological, not tree, predecessor)", s.Cursor())
	}
}

func TestComposeAndSentRoundTrip(t *testing.T) {
	s := newTestState()
	s.SnapToVisible(1)

	s.AlternateReply()
	if s.Cursor().Kind != CursorEditor {
		t.Fatalf("cursor = %+v, want Editor", s.Cursor())
	}
	if *s.Cursor().Parent != 1 {
		t.Fatalf("alternate reply parent = %d, want 1", *s.Cursor().Parent)
	}

	s.Editor().SetText("hello")
	reaction := s.Compose()
	if reaction.Kind != ReactionComposed || reaction.Content != "hello" {
		t.Fatalf("Compose = %+v, want Composed(hello)", reaction)
	}
	if s.Cursor().Kind != CursorPseudo {
		t.Fatalf("cursor = %+v, want Pseudo", s.Cursor())
	}

	newID := 6
	s.Sent(&newID)
	if s.Cursor().Kind != CursorMsg || s.Cursor().ID != 6 {
		t.Fatalf("cursor = %+v, want msg 6 after Sent", s.Cursor())
	}
	if s.Editor().Text() != "" {
		t.Error("editor should be cleared after a successful send")
	}
}

func TestComposeBlankContentIsNoop(t *testing.T) {
	s := newTestState()
	s.NewThread()
	s.Editor().SetText("   ")
	reaction := s.Compose()
	if reaction.Kind != ReactionHandled {
		t.Fatalf("Compose(blank) = %+v, want Handled without a send", reaction)
	}
	if s.Cursor().Kind != CursorEditor {
		t.Fatal("blank compose should not leave the editor")
	}
}

func TestSentFailureRevertsToComingFrom(t *testing.T) {
	s := newTestState()
	s.SnapToVisible(2)
	s.NormalReply(context.Background())
	s.Editor().SetText("hi")
	s.Compose()

	s.Sent(nil)
	if s.Cursor().Kind != CursorMsg || s.Cursor().ID != 2 {
		t.Fatalf("cursor = %+v, want reverted to msg 2", s.Cursor())
	}
}

func TestCancelReturnsToComingFromOrBottom(t *testing.T) {
	s := newTestState()
	s.NewThread() // opened from Bottom
	s.Cancel()
	if s.Cursor().Kind != CursorBottom {
		t.Fatalf("cursor = %+v, want Bottom after cancel with no coming_from", s.Cursor())
	}

	s.SnapToVisible(3)
	s.AlternateReply()
	s.Cancel()
	if s.Cursor().Kind != CursorMsg || s.Cursor().ID != 3 {
		t.Fatalf("cursor = %+v, want reverted to msg 3", s.Cursor())
	}
}
