// Package feed はフィード取得のユースケース。
// ストアから候補を1回取得し、ranking の純粋関数で並べ、著者情報を結合し、
// 閲覧者の配信済み集合に追記する
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/ranking"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	DefaultLimit = 10
	MaxLimit     = 20

	fetchMultiplier = 15
	maxFetch        = 300
)

var (
	ErrInvalidMode   = errors.New("invalid feed mode")
	ErrMissingQuery  = errors.New("search query is required")
	ErrMissingAuthor = errors.New("author id is required")
	ErrMissingViewer = errors.New("viewer id is required")
)

// IsValidationError はクライアント起因のエラーかどうか
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrMissingQuery) ||
		errors.Is(err, ErrMissingAuthor) ||
		errors.Is(err, ErrMissingViewer)
}

type PostStore interface {
	ListPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error)
}

type SeenStore interface {
	SeenPosts(ctx context.Context, viewerID string) ([]string, error)
	MarkSeen(ctx context.Context, viewerID string, postIDs []string) error
}

type ProfileSource interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	Author(ctx context.Context, userID string) (*domain.Author, error)
}

type Request struct {
	Mode       domain.FeedMode
	Limit      int
	ViewerID   string
	AuthorID   string
	Query      string
	Category   string
	StartAfter *int64
}

type Result struct {
	Posts      []domain.ScoredPost
	NextCursor *int64
}

type Service struct {
	posts    PostStore
	seen     SeenStore
	profiles ProfileSource
	now      func() time.Time
	homeOpts ranking.HomeOptions
	log      *log.Helper

	// *rand.Rand は並行利用できない
	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

func WithAuthorCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.homeOpts.AuthorCap = n
		}
	}
}

func NewService(posts PostStore, seen SeenStore, profiles ProfileSource, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		posts:    posts,
		seen:     seen,
		profiles: profiles,
		now:      time.Now,
		homeOpts: ranking.DefaultHomeOptions(),
		log:      log.NewHelper(logger),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func (s *Service) GetFeed(ctx context.Context, req Request) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.FeedModeHome
	}
	if err := validate(mode, req); err != nil {
		return nil, err
	}
	limit := ClampLimit(req.Limit)
	now := s.now()

	q := domain.PostQuery{Limit: min(limit*fetchMultiplier, maxFetch)}
	if req.StartAfter != nil {
		before := time.UnixMilli(*req.StartAfter)
		q.Before = &before
	}

	switch mode {
	case domain.FeedModeUser:
		q.AuthorIDs = []string{req.AuthorID}
	case domain.FeedModeFollowing:
		viewer, err := s.profiles.Get(ctx, req.ViewerID)
		if err != nil {
			return nil, fmt.Errorf("load viewer profile: %w", err)
		}
		if viewer == nil || len(viewer.Following) == 0 {
			return &Result{Posts: []domain.ScoredPost{}}, nil
		}
		q.AuthorIDs = viewer.Following
	}

	fetched, err := s.posts.ListPosts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	exhausted := len(fetched) < q.Limit
	if !exhausted {
		fetched = ranking.DropTrailingMillisecond(fetched)
	}

	candidates := ranking.FilterCategory(fetched, req.Category)

	// 配信済み集合はリクエスト開始時点のスナップショットを使う
	if req.ViewerID != "" && (mode == domain.FeedModeHome || mode == domain.FeedModeSearch) {
		seen, err := s.seen.SeenPosts(ctx, req.ViewerID)
		if err != nil {
			return nil, fmt.Errorf("load seen posts: %w", err)
		}
		candidates = ranking.ExcludeSeen(candidates, seen)
	}

	if mode == domain.FeedModeSearch {
		candidates = ranking.MatchQuery(candidates, req.Query)
	}

	var posts []domain.ScoredPost
	switch mode {
	case domain.FeedModeHome:
		s.rngMu.Lock()
		posts = ranking.Home(candidates, now, limit, s.homeOpts, s.rng)
		s.rngMu.Unlock()
	case domain.FeedModePopular:
		posts = ranking.Popular(candidates, now, limit)
	case domain.FeedModeSearch, domain.FeedModeUser, domain.FeedModeFollowing:
		posts = ranking.PageByMillisecond(ranking.Recent(candidates, -1), limit)
	}

	s.joinAuthors(ctx, posts)

	res := &Result{
		Posts:      posts,
		NextCursor: nextCursor(fetched, posts, len(candidates), exhausted),
	}

	// 書き込みに失敗しても結果は返す。次回同じ投稿が再配信されうる（at-least-once）
	if req.ViewerID != "" && len(posts) > 0 {
		ids := make([]string, 0, len(posts))
		for _, p := range posts {
			ids = append(ids, p.ID)
		}
		if err := s.seen.MarkSeen(ctx, req.ViewerID, ids); err != nil {
			s.log.WithContext(ctx).Errorw("msg", "mark seen failed", "viewer_id", req.ViewerID, "count", len(ids), "error", err)
		}
	}

	return res, nil
}

func validate(mode domain.FeedMode, req Request) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	switch mode {
	case domain.FeedModeSearch:
		if req.Query == "" {
			return ErrMissingQuery
		}
	case domain.FeedModeUser:
		if req.AuthorID == "" {
			return ErrMissingAuthor
		}
	case domain.FeedModeFollowing:
		if req.ViewerID == "" {
			return ErrMissingViewer
		}
	}
	return nil
}

// 著者情報は1件ずつ取得する。失敗した投稿は author 無しで返す
func (s *Service) joinAuthors(ctx context.Context, posts []domain.ScoredPost) {
	for i := range posts {
		author, err := s.profiles.Author(ctx, posts[i].AuthorID)
		if err != nil {
			s.log.WithContext(ctx).Errorw("msg", "join author failed", "post_id", posts[i].ID, "user_id", posts[i].AuthorID, "error", err)
			continue
		}
		posts[i].Author = author
	}
}

// nextCursor: ストアが取得上限未満しか返さず、絞り込み後の候補を全て返した場合のみ終端 (nil)。
// 全件が配信済みで結果が空なら、取得した中で最も古い時刻を返して先へ進めるようにする
func nextCursor(fetched []domain.Post, posts []domain.ScoredPost, candidates int, exhausted bool) *int64 {
	if exhausted && len(posts) >= candidates {
		return nil
	}
	if len(posts) > 0 {
		return ranking.NextCursor(posts)
	}
	if len(fetched) == 0 {
		return nil
	}
	oldest := fetched[len(fetched)-1].CreatedAt.UnixMilli()
	return &oldest
}
