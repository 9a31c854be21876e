package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relay/internal/db"
	"github.com/lalith-99/relay/internal/models"
)

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// GetOrCreate returns the chat for memberKey, creating it and its member rows
// if needed.
//
// Why a unique member_key instead of matching chat_members rows?
//   - "Does a chat with exactly these members exist?" over a join table is a
//     GROUP BY/HAVING query that two concurrent callers can both answer "no".
//   - A unique index on the canonical key makes Postgres the arbiter: the
//     second INSERT hits the conflict and reads the first caller's row.
//
// Why insert and then SELECT in the same transaction?
//   - ON CONFLICT DO NOTHING returns no row when the chat already exists.
//     Under READ COMMITTED the follow-up SELECT sees the row the other
//     transaction committed while we waited on the index.
func (s *ChatStore) GetOrCreate(ctx context.Context, memberKey string, members []uuid.UUID) (*models.Chat, bool, error) {
	var (
		chat    models.Chat
		created bool
	)
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO chats (member_key, member_count, created_at)
			VALUES ($1, $2, now())
			ON CONFLICT (member_key) DO NOTHING
			RETURNING id, member_key, created_at`

		err := tx.QueryRow(ctx, insert, memberKey, len(members)).Scan(&chat.ID, &chat.MemberKey, &chat.CreatedAt)
		switch {
		case err == nil:
			created = true
			for _, userID := range members {
				if _, err := tx.Exec(ctx,
					`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`,
					chat.ID, userID,
				); err != nil {
					return fmt.Errorf("insert chat member: %w", err)
				}
			}
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return tx.QueryRow(ctx,
				`SELECT id, member_key, created_at FROM chats WHERE member_key = $1`,
				memberKey,
			).Scan(&chat.ID, &chat.MemberKey, &chat.CreatedAt)
		default:
			return fmt.Errorf("insert chat: %w", err)
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("get or create chat: %w", err)
	}

	chat.Members, err = models.ParseMemberKey(chat.MemberKey)
	if err != nil {
		return nil, false, err
	}
	return &chat, created, nil
}

func (s *ChatStore) GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	query := `
		SELECT id, member_key, created_at
		FROM chats
		WHERE id = $1`

	var chat models.Chat
	err := s.pool.QueryRow(ctx, query, chatID).Scan(&chat.ID, &chat.MemberKey, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat.Members, err = models.ParseMemberKey(chat.MemberKey); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *ChatStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	query := `
		SELECT c.id, c.member_key, c.created_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.MemberKey, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if chat.Members, err = models.ParseMemberKey(chat.MemberKey); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	return chats, nil
}
