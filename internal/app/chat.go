package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"taskmanager/api/internal/events"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

var messageTypes = []string{"text", "image", "file"}

const maxMessageLength = 4000

// participantKey is the sorted, comma-joined participant set.
func participantKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// CreateOrGetChat returns the chat whose participants are exactly the
// caller plus participantIDs, creating it if needed.
func (s *Service) CreateOrGetChat(ctx context.Context, sess Session, participantIDs []string) (store.Chat, bool, error) {
	if err := requireSession(sess); err != nil {
		return store.Chat{}, false, err
	}
	ids := dedupe(append(append([]string{}, participantIDs...), sess.UserID))
	if len(ids) < 2 {
		return store.Chat{}, false, validationError("At least one other participant is required", "participantIds")
	}
	users, err := s.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		return store.Chat{}, false, err
	}
	if len(users) != len(ids) {
		return store.Chat{}, false, validationError("Unknown participant", "participantIds")
	}

	key := participantKey(ids)
	if chat, err := s.store.FindChatByKey(ctx, key); err == nil {
		return chat, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Chat{}, false, err
	}

	now := s.now()
	chat := store.Chat{ID: util.NewID("cht"), CreatedAt: now, UpdatedAt: now}
	for _, user := range users {
		chat.Participants = append(chat.Participants, store.UserRef{ID: user.ID, Username: user.Username, FullName: user.FullName})
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.CreateChat(ctx, chat, key)
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with an identical request.
		existing, findErr := s.store.FindChatByKey(ctx, key)
		return existing, false, findErr
	}
	if err != nil {
		return store.Chat{}, false, err
	}
	s.publish(ctx, events.ChatCreated, sess.UserID, map[string]any{"id": chat.ID, "participantIds": ids})
	return chat, true, nil
}

func (s *Service) ListChats(ctx context.Context, sess Session) ([]store.Chat, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return s.store.ListChatsForUser(ctx, sess.UserID)
}

func (s *Service) requireParticipant(ctx context.Context, sess Session, chatID string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	ok, err := s.store.IsChatParticipant(ctx, chatID, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("Chat not found")
	}
	return nil
}

func (s *Service) PostMessage(ctx context.Context, sess Session, chatID, content, messageType string) (store.ChatMessage, error) {
	if err := s.requireParticipant(ctx, sess, chatID); err != nil {
		return store.ChatMessage{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return store.ChatMessage{}, validationError("Message content is required", "content")
	}
	if len(content) > maxMessageLength {
		return store.ChatMessage{}, validationError("Message is too long", "content")
	}
	messageType, err := enumField(messageType, "text", "messageType", messageTypes)
	if err != nil {
		return store.ChatMessage{}, err
	}

	message := store.ChatMessage{
		ID:          util.NewID("msg"),
		ChatID:      chatID,
		SenderID:    sess.UserID,
		SenderName:  displayName(sess.FullName, sess.Username),
		Content:     content,
		MessageType: messageType,
		CreatedAt:   s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.AddChatMessage(ctx, message)
	})
	if err != nil {
		return store.ChatMessage{}, err
	}
	s.publish(ctx, events.ChatMessagePosted, sess.UserID, map[string]string{"id": message.ID, "chatId": chatID, "senderId": sess.UserID})
	return message, nil
}

func (s *Service) ListMessages(ctx context.Context, sess Session, chatID string) ([]store.ChatMessage, error) {
	if err := s.requireParticipant(ctx, sess, chatID); err != nil {
		return nil, err
	}
	return s.store.ListChatMessages(ctx, chatID)
}

// MarkRead marks every message from other participants as read.
func (s *Service) MarkRead(ctx context.Context, sess Session, chatID string) (int64, error) {
	if err := s.requireParticipant(ctx, sess, chatID); err != nil {
		return 0, err
	}
	return s.store.MarkChatRead(ctx, chatID, sess.UserID)
}

func (s *Service) MarkMessageRead(ctx context.Context, sess Session, chatID, messageID string) error {
	if err := s.requireParticipant(ctx, sess, chatID); err != nil {
		return err
	}
	if err := s.store.MarkMessageRead(ctx, chatID, messageID, sess.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Message not found")
		}
		return err
	}
	return nil
}

func (s *Service) ListOnlineUsers(ctx context.Context, sess Session) ([]store.OnlineStatus, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return s.store.ListOnlineStatuses(ctx)
}

func displayName(fullName, username string) string {
	if strings.TrimSpace(fullName) != "" {
		return fullName
	}
	return username
}
