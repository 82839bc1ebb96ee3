package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vedran77/mailbox/internal/domain"
)

type ConversationRepo struct {
	db DB
}

func NewConversationRepo(db DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO dm_conversations (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.db.Exec(ctx, query, conv.ID, conv.User1ID, conv.User2ID, conv.CreatedAt)
	return err
}

func (r *ConversationRepo) GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, user1_id, user2_id, created_at
		FROM dm_conversations
		WHERE user1_id = $1 AND user2_id = $2`
	var conv domain.Conversation
	err := r.db.QueryRow(ctx, query, user1ID, user2ID).Scan(
		&conv.ID, &conv.User1ID, &conv.User2ID, &conv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) GetConversation(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.id, c.user1_id, c.user2_id, c.created_at,
			u.id, u.username, u.display_name
		FROM dm_conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = $2 THEN c.user2_id ELSE c.user1_id END
		WHERE c.id = $1 AND (c.user1_id = $2 OR c.user2_id = $2)`
	var conv domain.Conversation
	err := r.db.QueryRow(ctx, query, id, userID).Scan(
		&conv.ID, &conv.User1ID, &conv.User2ID, &conv.CreatedAt,
		&conv.OtherUserID, &conv.OtherUserUsername, &conv.OtherUserDisplayName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM dm_conversations
			WHERE id = $1 AND (user1_id = $2 OR user2_id = $2)
		)`
	var ok bool
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ListConversations returns the user's conversations, most recently active
// first, each with the other participant and the newest message joined in.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	query := `
		SELECT c.id, c.user1_id, c.user2_id, c.created_at,
			CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END AS other_user_id,
			CASE WHEN c.user1_id = $1 THEN u2.username ELSE u1.username END AS other_username,
			CASE WHEN c.user1_id = $1 THEN u2.display_name ELSE u1.display_name END AS other_display_name,
			lm.id IS NOT NULL AS has_last,
			COALESCE(lm.id::text, ''),
			COALESCE(lm.sender_id::text, ''),
			COALESCE(lm.content, ''),
			COALESCE(lm.created_at, c.created_at)
		FROM dm_conversations c
		JOIN users u1 ON c.user1_id = u1.id
		JOIN users u2 ON c.user2_id = u2.id
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content, m.created_at
			FROM dm_messages m
			WHERE m.conversation_id = c.id AND m.deleted_at IS NULL
			ORDER BY m.created_at DESC
			LIMIT 1
		) lm ON true
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.ConversationSummary
	for rows.Next() {
		var (
			conv        domain.ConversationSummary
			hasLast     bool
			lastID      string
			lastSender  string
			lastContent string
			lastAt      time.Time
		)
		if err := rows.Scan(
			&conv.ID, &conv.User1ID, &conv.User2ID, &conv.CreatedAt,
			&conv.OtherUserID, &conv.OtherUserUsername, &conv.OtherUserDisplayName,
			&hasLast, &lastID, &lastSender, &lastContent, &lastAt,
		); err != nil {
			return nil, err
		}
		if hasLast {
			senderID, err := uuid.Parse(lastSender)
			if err != nil {
				return nil, fmt.Errorf("parsing last message sender: %w", err)
			}
			conv.LastMessage = &domain.Message{
				ID:             lastID,
				ConversationID: conv.ID,
				SenderID:       senderID,
				Content:        lastContent,
				CreatedAt:      lastAt,
				Status:         domain.StatusSent,
			}
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}
