package store

import (
	"context"
	"database/sql"
	"fmt"

	"cove/internal/forest"
	"cove/internal/protocol"
)

// storedMsg adapts protocol.Message to forest.Msg so Store can satisfy
// forest.QuerySurface without the wire protocol package knowing anything
// about the forest's generic shape.
type storedMsg struct {
	protocol.Message
	SeenFlag bool
}

func (m storedMsg) MsgID() protocol.MsgID { return m.Message.ID }

func (m storedMsg) ParentID() (protocol.MsgID, bool) {
	if m.Message.Parent == nil {
		return 0, false
	}
	return *m.Message.Parent, true
}

// Msg is the exported name for the forest.Msg implementation other
// packages need in order to name Tree[MsgID, Msg] (e.g.
// internal/vault, internal/nav). storedMsg stays unexported since only
// this package constructs values of it.
type Msg = storedMsg

var _ forest.QuerySurface[protocol.MsgID, storedMsg] = (*Store)(nil)

func scanMsg(row interface{ Scan(dest ...any) error }) (storedMsg, error) {
	var (
		id, parent int64
		hasParent  int
		senderID   string
		senderName string
		msgTime    int64
		content    string
		seen       int
	)
	if err := row.Scan(&id, &parent, &hasParent, &senderID, &senderName, &msgTime, &content, &seen); err != nil {
		return storedMsg{}, err
	}
	m := storedMsg{
		Message: protocol.Message{
			ID:      MsgID(id),
			Sender:  protocol.Session{ID: senderID, Name: senderName},
			Time:    msgTime,
			Content: content,
		},
		SeenFlag: seen != 0,
	}
	if hasParent != 0 {
		p := MsgID(parent)
		m.Message.Parent = &p
	}
	return m, nil
}

const msgColumns = `id, parent, has_parent, sender_id, sender_name, time, content, seen`

func (s *Store) loadMsg(ctx context.Context, room string, id MsgID) (storedMsg, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+msgColumns+` FROM messages WHERE room = ? AND id = ?`, room, int64(id))
	m, err := scanMsg(row)
	if err == sql.ErrNoRows {
		return storedMsg{}, false, nil
	}
	if err != nil {
		return storedMsg{}, false, fmt.Errorf("load message %d: %w", id, err)
	}
	return m, true, nil
}

// Path walks parents to the root, returning the path in root-to-node
// order.
func (s *Store) Path(ctx context.Context, room string, id MsgID) (forest.Path[MsgID], bool, error) {
	var path []MsgID
	cur := id
	for {
		m, ok, err := s.loadMsg(ctx, room, cur)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if len(path) == 0 {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("path: broken ancestor chain at %d", cur)
		}
		path = append([]MsgID{cur}, path...)
		parent, hasParent := m.ParentID()
		if !hasParent {
			break
		}
		cur = parent
	}
	return path, true, nil
}

// Tree materializes the tree rooted at rootID, child lists sorted
// ascending, without loading any other tree in the room.
func (s *Store) Tree(ctx context.Context, room string, rootID MsgID) (*forest.Tree[MsgID, storedMsg], bool, error) {
	root, ok, err := s.loadMsg(ctx, room, rootID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	node := &forest.Node[MsgID, storedMsg]{Message: root}
	if err := s.loadChildren(ctx, room, node); err != nil {
		return nil, false, err
	}
	return &forest.Tree[MsgID, storedMsg]{Root: node}, true, nil
}

func (s *Store) loadChildren(ctx context.Context, room string, node *forest.Node[MsgID, storedMsg]) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+msgColumns+` FROM messages WHERE room = ? AND has_parent = 1 AND parent = ? ORDER BY id ASC`, room, int64(node.Message.MsgID()))
	if err != nil {
		return fmt.Errorf("tree: children: %w", err)
	}
	var children []*forest.Node[MsgID, storedMsg]
	for rows.Next() {
		m, err := scanMsg(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("tree: scan child: %w", err)
		}
		children = append(children, &forest.Node[MsgID, storedMsg]{Message: m})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	node.Children = children
	for _, c := range children {
		if err := s.loadChildren(ctx, room, c); err != nil {
			return err
		}
	}
	return nil
}

// Children returns the immediate children of id, ascending by Id (I2).
func (s *Store) Children(ctx context.Context, room string, id MsgID) ([]MsgID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM messages WHERE room = ? AND has_parent = 1 AND parent = ? ORDER BY id ASC`, room, int64(id))
	if err != nil {
		return nil, fmt.Errorf("children: %w", err)
	}
	defer rows.Close()
	var out []MsgID
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("children: scan: %w", err)
		}
		out = append(out, MsgID(v))
	}
	return out, rows.Err()
}

func (s *Store) scalarID(ctx context.Context, q string, args ...any) (MsgID, bool, error) {
	var v sql.NullInt64
	if err := timed(q, func() error {
		return s.db.QueryRowContext(ctx, q, args...).Scan(&v)
	}); err != nil {
		return 0, false, fmt.Errorf("store: %w", err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return MsgID(v.Int64), true, nil
}

func (s *Store) FirstTreeID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ? AND has_parent = 0`, room)
}

func (s *Store) LastTreeID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ? AND has_parent = 0`, room)
}

func (s *Store) PrevTreeID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ? AND has_parent = 0 AND id < ?`, room, int64(id))
}

func (s *Store) NextTreeID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ? AND has_parent = 0 AND id > ?`, room, int64(id))
}

func (s *Store) OldestMsgID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ?`, room)
}

func (s *Store) NewestMsgID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ?`, room)
}

func (s *Store) OlderMsgID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ? AND id < ?`, room, int64(id))
}

func (s *Store) NewerMsgID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ? AND id > ?`, room, int64(id))
}

func (s *Store) OldestUnseenMsgID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ? AND seen = 0`, room)
}

func (s *Store) NewestUnseenMsgID(ctx context.Context, room string) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ? AND seen = 0`, room)
}

func (s *Store) OlderUnseenMsgID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MAX(id) FROM messages WHERE room = ? AND seen = 0 AND id < ?`, room, int64(id))
}

func (s *Store) NewerUnseenMsgID(ctx context.Context, room string, id MsgID) (MsgID, bool, error) {
	return s.scalarID(ctx, `SELECT MIN(id) FROM messages WHERE room = ? AND seen = 0 AND id > ?`, room, int64(id))
}

// UnseenCount returns the number of unseen messages in the room.
func (s *Store) UnseenCount(ctx context.Context, room string) (int, error) {
	var n int
	if err := timed("unseen_count", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room = ? AND seen = 0`, room).Scan(&n)
	}); err != nil {
		return 0, fmt.Errorf("unseen_count: %w", err)
	}
	return n, nil
}
