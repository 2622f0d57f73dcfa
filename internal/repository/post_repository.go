package repository

import (
	"context"
	"fmt"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostRepository struct {
	conn *pgxpool.Pool
}

func NewPostRepository(conn *pgxpool.Pool) *PostRepository {
	return &PostRepository{conn: conn}
}

// ListPosts は created_at の降順で最大 q.Limit 件を返す
// Before 指定時はそれより古い投稿のみ（カーソルページネーション）
func (r *PostRepository) ListPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	authors := q.AuthorIDs
	if authors == nil {
		// NULL だと cardinality() が NULL になり全件除外されてしまう
		authors = []string{}
	}

	query := `
		SELECT
			p.id,
			p.user_id,
			p.title,
			p.content,
			p.media_urls,
			COALESCE(p.category, ''),
			p.tags,
			p.likes_count,
			p.comments_count,
			p.created_at
		FROM posts p
		WHERE ($1::timestamptz IS NULL OR p.created_at < $1)
		  AND (cardinality($2::text[]) = 0 OR p.user_id = ANY($2))
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $3
	`
	rows, err := r.conn.Query(ctx, query, q.Before, authors, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]domain.Post, 0, q.Limit)
	for rows.Next() {
		var post domain.Post
		err := rows.Scan(
			&post.ID,
			&post.AuthorID,
			&post.Title,
			&post.Body,
			&post.MediaURLs,
			&post.Category,
			&post.Tags,
			&post.Likes,
			&post.Comments,
			&post.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return posts, nil
}
