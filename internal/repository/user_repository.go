package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	conn *pgxpool.Pool
}

func NewUserRepository(conn *pgxpool.Pool) *UserRepository {
	return &UserRepository{conn: conn}
}

// GetProfile はプロフィールとフォロー中ユーザーIDを返す
func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	err := r.conn.QueryRow(ctx,
		"SELECT id, display_name, avatar_url FROM users WHERE id = $1",
		userID,
	).Scan(&profile.ID, &profile.DisplayName, &profile.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	following, err := r.getFollowees(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile.Following = following

	return &profile, nil
}

func (r *UserRepository) getFollowees(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT followee_id
		 FROM follows
		 WHERE follower_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SeenPosts は閲覧者に配信済みの投稿IDを返す
func (r *UserRepository) SeenPosts(ctx context.Context, viewerID string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT post_id FROM seen_posts WHERE user_id = $1",
		viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query seen posts: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// MarkSeen は配信済み集合に和集合で追加する。既存の行は変更しない
func (r *UserRepository) MarkSeen(ctx context.Context, viewerID string, postIDs []string) error {
	if len(postIDs) == 0 {
		return ErrNoPostIDs
	}
	_, err := r.conn.Exec(ctx,
		`INSERT INTO seen_posts (user_id, post_id)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT DO NOTHING`,
		viewerID, postIDs,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotFound
		}
		return fmt.Errorf("insert seen posts: %w", err)
	}
	return nil
}
