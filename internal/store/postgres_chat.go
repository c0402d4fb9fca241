package store

import (
	"context"
	"database/sql"
	"errors"
)

const chatMessageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, COALESCE(NULLIF(u.full_name, ''), u.username, ''),
		m.content, m.message_type, m.is_read, m.created_at
	FROM chat_messages m
	LEFT JOIN users u ON u.id = m.sender_id`

func scanChatMessage(row rowScanner) (ChatMessage, error) {
	var message ChatMessage
	err := row.Scan(&message.ID, &message.ChatID, &message.SenderID, &message.SenderName,
		&message.Content, &message.MessageType, &message.IsRead, &message.CreatedAt)
	return message, err
}

func (s *PostgresStore) FindChatByKey(ctx context.Context, participantKey string) (Chat, error) {
	var chatID string
	err := s.q.QueryRowContext(ctx, `SELECT id FROM chats WHERE participant_key=$1`, participantKey).Scan(&chatID)
	if err != nil {
		return Chat{}, classify("find chat", err)
	}
	return s.GetChat(ctx, chatID)
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat Chat, participantKey string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chats (id, participant_key, created_at, updated_at) VALUES ($1, $2, $3, $4)
	`, chat.ID, participantKey, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return classify("insert chat", err)
	}
	for _, participant := range chat.Participants {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)
		`, chat.ID, participant.ID); err != nil {
			return classify("insert chat participant", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetChat(ctx context.Context, id string) (Chat, error) {
	var chat Chat
	err := s.q.QueryRowContext(ctx, `SELECT id, created_at, updated_at FROM chats WHERE id=$1`, id).
		Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return Chat{}, classify("read chat", err)
	}
	chats := []Chat{chat}
	if err := s.attachParticipants(ctx, chats); err != nil {
		return Chat{}, err
	}
	return chats[0], nil
}

// ListChatsForUser returns the user's chats, most recently active first,
// with the last message and the count of unread messages from others.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM chat_messages m
			 WHERE m.chat_id = c.id AND m.sender_id <> $1 AND NOT m.is_read)
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, classify("list chats", err)
	}
	defer rows.Close()

	chats := make([]Chat, 0)
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt, &chat.UnreadCount); err != nil {
			return nil, classify("scan chat", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list chats", err)
	}
	if err := s.attachParticipants(ctx, chats); err != nil {
		return nil, err
	}
	for i := range chats {
		last, err := scanChatMessage(s.q.QueryRowContext(ctx,
			chatMessageSelect+` WHERE m.chat_id = $1 ORDER BY m.seq DESC LIMIT 1`, chats[i].ID))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, classify("read last message", err)
		}
		chats[i].LastMessage = &last
	}
	return chats, nil
}

func (s *PostgresStore) attachParticipants(ctx context.Context, chats []Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, len(chats))
	index := make(map[string]int, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
		index[chats[i].ID] = i
		chats[i].Participants = []UserRef{}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT cp.chat_id, u.id, u.username, u.full_name
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.chat_id = ANY($1)
		ORDER BY u.username
	`, ids)
	if err != nil {
		return classify("list chat participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chatID string
		var ref UserRef
		if err := rows.Scan(&chatID, &ref.ID, &ref.Username, &ref.FullName); err != nil {
			return classify("scan chat participant", err)
		}
		if i, ok := index[chatID]; ok {
			chats[i].Participants = append(chats[i].Participants, ref)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var ok bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)
	`, chatID, userID).Scan(&ok)
	if err != nil {
		return false, classify("check chat participant", err)
	}
	return ok, nil
}

func (s *PostgresStore) AddChatMessage(ctx context.Context, message ChatMessage) error {
	if _, err := s.q.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, sender_id, content, message_type, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, message.ID, message.ChatID, message.SenderID, message.Content, message.MessageType, message.CreatedAt); err != nil {
		return classify("insert chat message", err)
	}
	_, err := s.q.ExecContext(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, message.ChatID, message.CreatedAt)
	return classify("touch chat", err)
}

func (s *PostgresStore) ListChatMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	rows, err := s.q.QueryContext(ctx, chatMessageSelect+` WHERE m.chat_id = $1 ORDER BY m.seq`, chatID)
	if err != nil {
		return nil, classify("list chat messages", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0)
	for rows.Next() {
		message, err := scanChatMessage(rows)
		if err != nil {
			return nil, classify("scan chat message", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// MarkChatRead marks every unread message not sent by readerID as read and
// reports how many changed.
func (s *PostgresStore) MarkChatRead(ctx context.Context, chatID, readerID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE chat_messages SET is_read=TRUE
		WHERE chat_id=$1 AND sender_id <> $2 AND NOT is_read
	`, chatID, readerID)
	if err != nil {
		return 0, classify("mark chat read", err)
	}
	return res.RowsAffected()
}

// MarkMessageRead is a no-op for the reader's own messages.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, chatID, messageID, readerID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = is_read OR sender_id <> $3
		WHERE id=$2 AND chat_id=$1
	`, chatID, messageID, readerID)
	if err != nil {
		return classify("mark message read", err)
	}
	return requireAffected(res, "mark message read")
}
