package archive

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_key).
func (db *DB) UpsertMessage(m *MessageRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_key, server_id, sender_id, sender_name, body, content_type, status, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			server_id = excluded.server_id,
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = excluded.status,
			created_at = excluded.created_at`,
		m.ConversationID, m.MsgKey, m.ServerID, m.SenderID, m.SenderName, m.Body, m.ContentType, m.Status, m.CreatedAt, now)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by created_at.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_key, server_id, sender_id, sender_name, body, content_type, status, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgKey, &m.ServerID, &m.SenderID, &m.SenderName, &m.Body, &m.ContentType, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
