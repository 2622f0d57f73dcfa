package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/feed"
	"github.com/docker/go-connections/nat"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres は postgres コンテナを起動してマイグレーションを流す。
// -short の場合はスキップ
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "lacrozan",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/lacrozan?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/lacrozan?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	entries, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.sql"))
	require.NoError(t, err)
	sort.Strings(entries)
	for _, path := range entries {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(content))
		require.NoError(t, err, "apply migration %s", filepath.Base(path))
	}
	return pool
}

func TestPostgresRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, display_name, avatar_url) VALUES
			('u1', 'Budi', 'https://cdn/u1.png'),
			('u2', 'Sari', ''),
			('u3', 'Andi', '')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO follows (follower_id, followee_id) VALUES ('u1', 'u2'), ('u1', 'u3')`)
	require.NoError(t, err)
	for i := range 5 {
		author := []string{"u1", "u2", "u3"}[i%3]
		_, err = pool.Exec(ctx,
			`INSERT INTO posts (id, user_id, title, content, tags, likes_count, comments_count, created_at)
			 VALUES ($1, $2, $3, 'body', '{go}', $4, 0, $5)`,
			fmt.Sprintf("p%d", i), author, fmt.Sprintf("title %d", i), i, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	posts := NewPostRepository(pool)
	users := NewUserRepository(pool)

	t.Run("list newest first", func(t *testing.T) {
		got, err := posts.ListPosts(ctx, domain.PostQuery{Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, "p4", got[0].ID)
		require.Equal(t, "p2", got[2].ID)
		require.Equal(t, []string{"go"}, got[0].Tags)
		require.Empty(t, got[0].Category)
	})

	t.Run("cursor and author filter", func(t *testing.T) {
		before := base.Add(4 * time.Hour)
		got, err := posts.ListPosts(ctx, domain.PostQuery{Before: &before, AuthorIDs: []string{"u1"}, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "p3", got[0].ID)
		require.Equal(t, "p0", got[1].ID)
	})

	t.Run("profile with followees", func(t *testing.T) {
		profile, err := users.GetProfile(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "Budi", profile.DisplayName)
		require.ElementsMatch(t, []string{"u2", "u3"}, profile.Following)

		_, err = users.GetProfile(ctx, "missing")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("seen set only grows", func(t *testing.T) {
		require.NoError(t, users.MarkSeen(ctx, "u2", []string{"p1", "p2"}))
		require.NoError(t, users.MarkSeen(ctx, "u2", []string{"p2", "p3"}))

		seen, err := users.SeenPosts(ctx, "u2")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"p1", "p2", "p3"}, seen)

		require.ErrorIs(t, users.MarkSeen(ctx, "ghost", []string{"p1"}), ErrUserNotFound)
		require.ErrorIs(t, users.MarkSeen(ctx, "u2", nil), ErrNoPostIDs)
	})
}

// noProfiles は著者結合を行わない ProfileSource
type noProfiles struct{}

func (noProfiles) Get(context.Context, string) (*domain.UserProfile, error) { return nil, nil }
func (noProfiles) Author(context.Context, string) (*domain.Author, error) { return nil, nil }

func TestPostgresFeedWalk_SameMillisecond(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	_, err := pool.Exec(ctx, `INSERT INTO users (id, display_name) VALUES ('u1', 'Budi')`)
	require.NoError(t, err)

	// a と b は同じミリ秒内のマイクロ秒違い
	insert := func(id string, at time.Time) {
		_, err := pool.Exec(ctx, `INSERT INTO posts (id, user_id, created_at) VALUES ($1, 'u1', $2)`, id, at)
		require.NoError(t, err)
	}
	insert("a", base.Add(500*time.Microsecond))
	insert("b", base.Add(200*time.Microsecond))
	insert("c", base.Add(-time.Minute))
	want := []string{"a", "b", "c"}
	for i := range 20 {
		id := fmt.Sprintf("f%02d", i)
		insert(id, base.Add(-time.Duration(i+2)*time.Minute))
		want = append(want, id)
	}

	users := NewUserRepository(pool)
	svc := feed.NewService(NewPostRepository(pool), users, noProfiles{}, log.NewStdLogger(io.Discard))

	var got []string
	req := feed.Request{Mode: domain.FeedModeUser, AuthorID: "u1", Limit: 1}
	for range 50 {
		res, err := svc.GetFeed(ctx, req)
		require.NoError(t, err)
		for _, p := range res.Posts {
			got = append(got, p.ID)
		}
		if res.NextCursor == nil {
			break
		}
		req.StartAfter = res.NextCursor
	}
	require.Equal(t, want, got)
}
