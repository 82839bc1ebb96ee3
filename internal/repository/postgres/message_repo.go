package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/repository"
)

type MessageRepo struct {
	db DB
}

func NewMessageRepo(db DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) WriteMessage(ctx context.Context, in repository.WriteInput) (*repository.WriteResult, error) {
	attachments, err := encodeAttachments(in.Attachments)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO dm_messages (conversation_id, sender_id, content, attachments, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now()))
		RETURNING id, created_at`

	var (
		id        uuid.UUID
		createdAt time.Time
	)
	if err := r.db.QueryRow(ctx, query,
		in.ConversationID, in.SenderID, in.Content, attachments, in.CreatedAt,
	).Scan(&id, &createdAt); err != nil {
		return nil, fmt.Errorf("inserting dm message: %w", err)
	}

	return &repository.WriteResult{ID: id.String(), CreatedAt: createdAt}, nil
}

func (r *MessageRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, attachments,
			edited_at IS NOT NULL, created_at
		FROM dm_messages
		WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			msg         domain.Message
			id          uuid.UUID
			attachments []byte
		)
		if err := rows.Scan(
			&id, &msg.ConversationID, &msg.SenderID, &msg.Content, &attachments,
			&msg.Edited, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.ID = id.String()
		msg.Status = domain.StatusSent
		if msg.Attachments, err = decodeAttachments(attachments); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *MessageRepo) UpdateMessage(ctx context.Context, id, content string) error {
	msgID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", id, err)
	}
	query := `UPDATE dm_messages SET content = $1, edited_at = now() WHERE id = $2 AND deleted_at IS NULL`
	_, err = r.db.Exec(ctx, query, content, msgID)
	return err
}

func encodeAttachments(attachments []domain.Attachment) ([]byte, error) {
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encoding attachments: %w", err)
	}
	return data, nil
}

func decodeAttachments(data []byte) ([]domain.Attachment, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attachments []domain.Attachment
	if err := json.Unmarshal(data, &attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments: %w", err)
	}
	if len(attachments) == 0 {
		return nil, nil
	}
	return attachments, nil
}
