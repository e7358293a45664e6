// Package forest defines the generic reply-tree data shapes shared by
// the Message Store and the Tree Navigation Model: Msg, Node, Tree
// and Path, plus the uniform async Store Query Surface.
// Generalized over a Msg capability set rather than one concrete
// message type, favoring an interface abstraction over inheritance.
package forest

import "context"

// Msg is the minimal capability set the forest needs: an identity and
// an optional parent identity.
type Msg[I comparable] interface {
	MsgID() I
	ParentID() (I, bool)
}

// Node is one message plus its children. Invariant I2 (children sorted
// ascending by Id) is the responsibility of whoever builds the tree, not
// of this type.
type Node[I comparable, M Msg[I]] struct {
	Message  M
	Children []*Node[I, M]
}

// Tree is a rooted subtree: its Root's message has no parent (I3 — every
// non-root message reaches the root by repeated parent traversal — is
// likewise the builder's responsibility).
type Tree[I comparable, M Msg[I]] struct {
	Root *Node[I, M]
}

// Contains reports whether id appears anywhere in the tree.
func (t *Tree[I, M]) Contains(id I) bool {
	if t == nil || t.Root == nil {
		return false
	}
	return t.Root.contains(id)
}

func (n *Node[I, M]) contains(id I) bool {
	if n.Message.MsgID() == id {
		return true
	}
	for _, c := range n.Children {
		if c.contains(id) {
			return true
		}
	}
	return false
}

// Path is a non-empty root-to-node sequence of Ids, used to compute
// indentation and to locate ancestors.
type Path[I comparable] []I

// QuerySurface is the uniform async interface UI and navigation code
// query against, hiding how the Message Store is reached. Every method
// blocks until its answer is available or ctx is cancelled; none of
// them changes the store's state.
// All "found" returns use the trailing bool rather than a zero value, so
// a zero Id is never mistaken for "none".
type QuerySurface[I comparable, M Msg[I]] interface {
	Path(ctx context.Context, room string, id I) (Path[I], bool, error)
	Tree(ctx context.Context, room string, rootID I) (*Tree[I, M], bool, error)

	FirstTreeID(ctx context.Context, room string) (I, bool, error)
	LastTreeID(ctx context.Context, room string) (I, bool, error)
	PrevTreeID(ctx context.Context, room string, id I) (I, bool, error)
	NextTreeID(ctx context.Context, room string, id I) (I, bool, error)

	OldestMsgID(ctx context.Context, room string) (I, bool, error)
	NewestMsgID(ctx context.Context, room string) (I, bool, error)
	OlderMsgID(ctx context.Context, room string, id I) (I, bool, error)
	NewerMsgID(ctx context.Context, room string, id I) (I, bool, error)

	OldestUnseenMsgID(ctx context.Context, room string) (I, bool, error)
	NewestUnseenMsgID(ctx context.Context, room string) (I, bool, error)
	OlderUnseenMsgID(ctx context.Context, room string, id I) (I, bool, error)
	NewerUnseenMsgID(ctx context.Context, room string, id I) (I, bool, error)

	UnseenCount(ctx context.Context, room string) (int, error)
	Children(ctx context.Context, room string, id I) ([]I, error)
}
