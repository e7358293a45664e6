package nav

import (
	"context"
	"strings"
	"sync"

	"cove/internal/forest"
)

// State is one room's tree navigation state: the current Cursor, the
// last resolved Cursor (kept for visual stability across re-layouts,
// original's last_cursor), a pending Correction, a scroll offset and an
// in-progress Editor. Its own mutex serializes access the way
// InnerTreeViewState is guarded by a tokio::sync::Mutex in the
// original — every exported method is safe to call concurrently.
type State[I comparable, M forest.Msg[I]] struct {
	mu sync.Mutex

	store forest.QuerySurface[I, M]
	room  string

	cursor     Cursor[I]
	lastCursor Cursor[I]

	scroll     int
	correction Correction

	editor Editor
}

// New creates navigation state over one room's query surface,
// starting at the bottom (spec.md §4.F).
func New[I comparable, M forest.Msg[I]](store forest.QuerySurface[I, M], room string) *State[I, M] {
	return &State[I, M]{
		store:      store,
		room:       room,
		cursor:     bottomCursor[I](),
		lastCursor: bottomCursor[I](),
	}
}

// Cursor returns the current cursor.
func (s *State[I, M]) Cursor() Cursor[I] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Scroll returns the current scroll offset, in the external view's own
// units; the core never interprets it.
func (s *State[I, M]) Scroll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll
}

// TakeCorrection returns the pending correction and clears it. The
// external view is expected to call this once per render.
func (s *State[I, M]) TakeCorrection() Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.correction
	s.correction = NoCorrection
	return c
}

// Editor exposes the composition buffer for the external collaborator
// to drive with decoded key input. Only meaningful while Cursor().Kind
// == CursorEditor.
func (s *State[I, M]) Editor() *Editor {
	return &s.editor
}

// ScrollUp and ScrollDown shift the viewport by n lines without moving
// the cursor (spec.md §4.F "scroll up/down by N"); whether the cursor
// has left the viewport, and to what visible message it should snap,
// is the external view's call since only it knows the rendered layout
// — see SnapToVisible.
func (s *State[I, M]) ScrollUp(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll += n
}

func (s *State[I, M]) ScrollDown(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll -= n
}

// SnapToVisible applies the MoveCursorToVisibleArea correction: the
// external view determined the cursor scrolled off-screen and found
// the nearest still-visible message.
func (s *State[I, M]) SnapToVisible(id I) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = msgCursor[I](id)
}

// MoveCursorToTop moves to the root of the chronologically first tree
// (spec.md §4.F "top").
func (s *State[I, M]) MoveCursorToTop(ctx context.Context) error {
	id, ok, err := s.store.FirstTreeID(ctx, s.room)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = msgCursor[I](id)
	return nil
}

// MoveCursorToBottom moves to Bottom (spec.md §4.F "bottom").
func (s *State[I, M]) MoveCursorToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = bottomCursor[I]()
}

// MoveCursorOlder and MoveCursorNewer move chronologically across the
// whole forest, ignoring tree structure (spec.md §4.F "older/newer").
// From Bottom, Older steps to the newest message in the archive (the
// first thing "older" than Bottom); Newer has no such bootstrap since
// nothing is newer than Bottom, so it no-ops from Bottom the same way
// MoveCursorDown no-ops from Bottom.
func (s *State[I, M]) MoveCursorOlder(ctx context.Context) error {
	return s.moveChronological(ctx, s.store.OlderMsgID, s.store.NewestMsgID)
}

func (s *State[I, M]) MoveCursorNewer(ctx context.Context) error {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()
	if !hasAnchor {
		return nil // already at/after the bottom
	}
	id, ok, err := s.store.NewerMsgID(ctx, s.room, anchor)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = msgCursor[I](id)
	return nil
}

func (s *State[I, M]) moveChronological(
	ctx context.Context,
	step func(ctx context.Context, room string, id I) (I, bool, error),
	fromBottom func(ctx context.Context, room string) (I, bool, error),
) error {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()

	var (
		id  I
		ok  bool
		err error
	)
	if hasAnchor {
		id, ok, err = step(ctx, s.room, anchor)
	} else {
		id, ok, err = fromBottom(ctx, s.room)
	}
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = msgCursor[I](id)
	return nil
}

// MoveCursorUp and MoveCursorDown move to the previous/next visible
// line in the rendered tree layout, which may cross from one tree into
// another (spec.md §4.F "up/down"). Layout line-wrapping stays with the
// external view; within that constraint this walks the forest in
// pre-order (root, then each child's subtree, ascending by Id — the
// same order the store's Children() already sorts in, per invariant
// I2), which is what a vertically-stacked indented tree view renders.
func (s *State[I, M]) MoveCursorDown(ctx context.Context) error {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()

	var (
		id  I
		ok  bool
		err error
	)
	if !hasAnchor {
		return nil // already at/after the bottom
	}
	id, ok, err = s.nextPreOrder(ctx, anchor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.cursor = msgCursor[I](id)
	} else {
		s.cursor = bottomCursor[I]()
	}
	return nil
}

func (s *State[I, M]) MoveCursorUp(ctx context.Context) error {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()

	var (
		id  I
		ok  bool
		err error
	)
	if hasAnchor {
		id, ok, err = s.prevPreOrder(ctx, anchor)
	} else {
		// Bottom's predecessor in pre-order is the last node of the last
		// tree's subtree, not the highest-Id message overall (those can
		// diverge when a high-Id message is a deep reply in an earlier
		// tree while a later, childless tree exists) — the same rule
		// prevPreOrder uses for "the node before a tree root".
		var lastRoot I
		lastRoot, ok, err = s.store.LastTreeID(ctx, s.room)
		if err == nil && ok {
			id, ok, err = s.lastInSubtree(ctx, lastRoot)
		}
	}
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = msgCursor[I](id)
	return nil
}

// nextPreOrder returns the Id that follows id in the forest's pre-order
// walk: id's first child, else the next sibling after id found by
// walking up id's ancestor chain, else the next tree's root.
func (s *State[I, M]) nextPreOrder(ctx context.Context, id I) (I, bool, error) {
	var zero I
	children, err := s.store.Children(ctx, s.room, id)
	if err != nil {
		return zero, false, err
	}
	if len(children) > 0 {
		return children[0], true, nil
	}

	cur := id
	for {
		path, ok, err := s.store.Path(ctx, s.room, cur)
		if err != nil {
			return zero, false, err
		}
		if !ok || len(path) < 2 {
			// cur is a tree root with no children: move to the next tree.
			next, ok, err := s.store.NextTreeID(ctx, s.room, cur)
			return next, ok, err
		}
		parent := path[len(path)-2]
		siblings, err := s.store.Children(ctx, s.room, parent)
		if err != nil {
			return zero, false, err
		}
		idx := indexOf(siblings, cur)
		if idx >= 0 && idx+1 < len(siblings) {
			return siblings[idx+1], true, nil
		}
		cur = parent
	}
}

// prevPreOrder returns the Id that precedes id in pre-order: if id is
// the first child of its parent (or a tree root), that's the parent
// (or the previous tree's last node in pre-order); otherwise it's the
// last node in pre-order of the previous sibling's subtree.
func (s *State[I, M]) prevPreOrder(ctx context.Context, id I) (I, bool, error) {
	var zero I
	path, ok, err := s.store.Path(ctx, s.room, id)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	if len(path) < 2 {
		prevRoot, ok, err := s.store.PrevTreeID(ctx, s.room, id)
		if err != nil || !ok {
			return zero, ok, err
		}
		return s.lastInSubtree(ctx, prevRoot)
	}
	parent := path[len(path)-2]
	siblings, err := s.store.Children(ctx, s.room, parent)
	if err != nil {
		return zero, false, err
	}
	idx := indexOf(siblings, id)
	if idx <= 0 {
		return parent, true, nil
	}
	return s.lastInSubtree(ctx, siblings[idx-1])
}

func (s *State[I, M]) lastInSubtree(ctx context.Context, id I) (I, bool, error) {
	for {
		children, err := s.store.Children(ctx, s.room, id)
		if err != nil {
			var zero I
			return zero, false, err
		}
		if len(children) == 0 {
			return id, true, nil
		}
		id = children[len(children)-1]
	}
}

func indexOf[I comparable](ids []I, target I) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

// NormalReply enters Editor with the parent a sibling reply would use:
// the cursor message's own parent, keeping the thread's depth
// unchanged (spec.md §4.F "r (normal reply)").
func (s *State[I, M]) NormalReply(ctx context.Context) error {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()

	var parent *I
	if hasAnchor {
		path, ok, err := s.store.Path(ctx, s.room, anchor)
		if err != nil {
			return err
		}
		if ok && len(path) >= 2 {
			p := path[len(path)-2]
			parent = &p
		}
	}
	s.enterEditor(hasAnchor, anchor, parent)
	return nil
}

// AlternateReply enters Editor with the cursor message itself as
// parent, nesting one level deeper (spec.md §4.F "R (alternate
// reply)").
func (s *State[I, M]) AlternateReply() {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()

	var parent *I
	if hasAnchor {
		id := anchor
		parent = &id
	}
	s.enterEditor(hasAnchor, anchor, parent)
}

// NewThread enters Editor with no parent, starting a new root message
// (spec.md §4.F "t").
func (s *State[I, M]) NewThread() {
	s.mu.Lock()
	anchor, hasAnchor := s.cursor.anchor()
	s.mu.Unlock()
	s.enterEditor(hasAnchor, anchor, nil)
}

func (s *State[I, M]) enterEditor(hasAnchor bool, anchor I, parent *I) {
	var comingFrom *I
	if hasAnchor {
		id := anchor
		comingFrom = &id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = editorCursor[I](comingFrom, parent)
	s.correction = MakeCursorVisible
}

// Cancel handles Esc while composing: return to the message the editor
// was opened from, or Bottom if it was opened fresh.
func (s *State[I, M]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor.Kind != CursorEditor {
		return
	}
	if s.cursor.ComingFrom != nil {
		s.cursor = msgCursor[I](*s.cursor.ComingFrom)
	} else {
		s.cursor = bottomCursor[I]()
	}
	s.editor.Clear()
}

// Compose handles Enter while composing: if the editor holds non-blank
// content, move to Pseudo (awaiting the server's echo) and return a
// Composed reaction; otherwise the key is absorbed without sending
// anything (spec.md §4.F "Enter with non-blank content").
func (s *State[I, M]) Compose() Reaction[I] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor.Kind != CursorEditor {
		return Reaction[I]{Kind: ReactionNotHandled}
	}
	content := s.editor.Text()
	if strings.TrimSpace(content) == "" {
		s.correction = MakeCursorVisible
		return Reaction[I]{Kind: ReactionHandled}
	}
	comingFrom, parent := s.cursor.ComingFrom, s.cursor.Parent
	s.cursor = pseudoCursor[I](comingFrom, parent)
	return Reaction[I]{Kind: ReactionComposed, Parent: parent, Content: content}
}

// Sent resolves a Pseudo cursor once the room driver reports the
// outcome of the Composed send: id is the server-assigned Id on
// success, or nil on failure (spec.md §4.F "When the server echoes the
// message... If the send fails, the cursor reverts to coming_from").
func (s *State[I, M]) Sent(id *I) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor.Kind != CursorPseudo {
		return
	}
	comingFrom := s.cursor.ComingFrom
	if id != nil {
		s.lastCursor = msgCursor[I](*id)
		s.cursor = msgCursor[I](*id)
		s.editor.Clear()
		return
	}
	if comingFrom != nil {
		s.cursor = msgCursor[I](*comingFrom)
	} else {
		s.cursor = bottomCursor[I]()
	}
}
