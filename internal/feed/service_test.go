package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubPosts はストアの振る舞い（降順・カーソル・著者・件数）を再現する
type stubPosts struct {
	posts   []domain.Post
	err     error
	queries []domain.PostQuery
}

func (s *stubPosts) ListPosts(_ context.Context, q domain.PostQuery) ([]domain.Post, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	sorted := slices.Clone(s.posts)
	slices.SortStableFunc(sorted, func(a, b domain.Post) int { return b.CreatedAt.Compare(a.CreatedAt) })
	out := []domain.Post{}
	for _, p := range sorted {
		if q.Before != nil && !p.CreatedAt.Before(*q.Before) {
			continue
		}
		if len(q.AuthorIDs) > 0 && !slices.Contains(q.AuthorIDs, p.AuthorID) {
			continue
		}
		out = append(out, p)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

type stubSeen struct {
	mu      sync.Mutex
	seen    map[string][]string
	markErr error
}

func newStubSeen() *stubSeen { return &stubSeen{seen: map[string][]string{}} }

func (s *stubSeen) SeenPosts(_ context.Context, viewerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.seen[viewerID]), nil
}

func (s *stubSeen) MarkSeen(_ context.Context, viewerID string, postIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for _, id := range postIDs {
		if !slices.Contains(s.seen[viewerID], id) {
			s.seen[viewerID] = append(s.seen[viewerID], id)
		}
	}
	return nil
}

type stubProfiles struct {
	profiles  map[string]*domain.UserProfile
	authorErr map[string]error
}

func (s *stubProfiles) Get(_ context.Context, userID string) (*domain.UserProfile, error) {
	return s.profiles[userID], nil
}

func (s *stubProfiles) Author(_ context.Context, userID string) (*domain.Author, error) {
	if err := s.authorErr[userID]; err != nil {
		return nil, err
	}
	p := s.profiles[userID]
	if p == nil {
		return nil, nil
	}
	return &domain.Author{ID: p.ID, Name: p.DisplayName}, nil
}

func post(id, author string, ageHours float64, likes, comments int64) domain.Post {
	return domain.Post{
		ID:        id,
		AuthorID:  author,
		Title:     "title " + id,
		Body:      "body " + id,
		Likes:     likes,
		Comments:  comments,
		CreatedAt: testNow.Add(-time.Duration(ageHours * float64(time.Hour))),
	}
}

func newTestService(posts *stubPosts, seen *stubSeen, profiles *stubProfiles) *Service {
	if profiles == nil {
		profiles = &stubProfiles{}
	}
	return NewService(posts, seen, profiles, log.NewStdLogger(io.Discard),
		WithClock(func() time.Time { return testNow }),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	)
}

func resultIDs(posts []domain.ScoredPost) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestGetFeed_HomeNeverRepeatsForViewer(t *testing.T) {
	var all []domain.Post
	for i := range 30 {
		all = append(all, post(fmt.Sprintf("p%02d", i), fmt.Sprintf("u%d", i%10), float64(i*5), 0, 0))
	}
	seen := newStubSeen()
	svc := newTestService(&stubPosts{posts: all}, seen, nil)
	ctx := context.Background()

	first, err := svc.GetFeed(ctx, Request{Mode: domain.FeedModeHome, Limit: 10, ViewerID: "viewer"})
	require.NoError(t, err)
	require.Len(t, first.Posts, 10)

	second, err := svc.GetFeed(ctx, Request{Mode: domain.FeedModeHome, Limit: 10, ViewerID: "viewer"})
	require.NoError(t, err)
	require.NotEmpty(t, second.Posts)

	for _, id := range resultIDs(second.Posts) {
		require.NotContains(t, resultIDs(first.Posts), id)
	}
	require.Len(t, seen.seen["viewer"], len(first.Posts)+len(second.Posts))
}

func TestGetFeed_AnonymousDoesNotWriteSeen(t *testing.T) {
	seen := newStubSeen()
	svc := newTestService(&stubPosts{posts: []domain.Post{post("a", "u1", 1, 0, 0)}}, seen, nil)

	res, err := svc.GetFeed(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	require.Empty(t, seen.seen)
}

func TestGetFeed_Popular(t *testing.T) {
	posts := &stubPosts{posts: []domain.Post{
		post("post0", "u1", 1, 10, 0),
		post("post1", "u2", 100, 0, 0),
		post("post2", "u3", 1, 0, 3),
	}}
	svc := newTestService(posts, newStubSeen(), nil)

	res, err := svc.GetFeed(context.Background(), Request{Mode: domain.FeedModePopular, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"post0", "post2"}, resultIDs(res.Posts))
	require.InDelta(t, 29.8, res.Posts[0].Score, 1e-9)
	require.InDelta(t, 11.8, res.Posts[1].Score, 1e-9)
	require.Equal(t, 30, posts.queries[0].Limit)
}

func TestGetFeed_SearchFiltersAndExcludesSeen(t *testing.T) {
	a := post("a", "u1", 1, 0, 0)
	a.Title = "Belajar Golang"
	b := post("b", "u2", 2, 0, 0)
	b.Tags = []string{"golang"}
	c := post("c", "u3", 3, 0, 0)
	seen := newStubSeen()
	seen.seen["viewer"] = []string{"a"}
	svc := newTestService(&stubPosts{posts: []domain.Post{a, b, c}}, seen, nil)

	res, err := svc.GetFeed(context.Background(), Request{Mode: domain.FeedModeSearch, Query: "GOLANG", ViewerID: "viewer"})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, resultIDs(res.Posts))
}

func TestGetFeed_UserModeIgnoresSeen(t *testing.T) {
	seen := newStubSeen()
	seen.seen["viewer"] = []string{"a"}
	posts := &stubPosts{posts: []domain.Post{
		post("a", "u1", 1, 0, 0),
		post("b", "u2", 2, 0, 0),
		post("c", "u1", 3, 0, 0),
	}}
	svc := newTestService(posts, seen, nil)

	res, err := svc.GetFeed(context.Background(), Request{Mode: domain.FeedModeUser, AuthorID: "u1", ViewerID: "viewer"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, resultIDs(res.Posts))
	require.Equal(t, []string{"u1"}, posts.queries[0].AuthorIDs)
}

func TestGetFeed_Following(t *testing.T) {
	profiles := &stubProfiles{profiles: map[string]*domain.UserProfile{
		"viewer": {ID: "viewer", Following: []string{"u2"}},
		"u2":     {ID: "u2", DisplayName: "Sari"},
	}}
	posts := &stubPosts{posts: []domain.Post{
		post("a", "u1", 1, 0, 0),
		post("b", "u2", 2, 0, 0),
	}}
	svc := newTestService(posts, newStubSeen(), profiles)

	res, err := svc.GetFeed(context.Background(), Request{Mode: domain.FeedModeFollowing, ViewerID: "viewer"})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, resultIDs(res.Posts))
	require.Equal(t, "Sari", res.Posts[0].Author.Name)

	profiles.profiles["viewer"].Following = nil
	res, err = svc.GetFeed(context.Background(), Request{Mode: domain.FeedModeFollowing, ViewerID: "viewer"})
	require.NoError(t, err)
	require.Empty(t, res.Posts)
	require.Nil(t, res.NextCursor)
}

func TestGetFeed_Validation(t *testing.T) {
	svc := newTestService(&stubPosts{}, newStubSeen(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown mode", Request{Mode: "trending"}, ErrInvalidMode},
		{"search without query", Request{Mode: domain.FeedModeSearch}, ErrMissingQuery},
		{"user without author", Request{Mode: domain.FeedModeUser}, ErrMissingAuthor},
		{"following without viewer", Request{Mode: domain.FeedModeFollowing}, ErrMissingViewer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetFeed(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsValidationError(err))
		})
	}
}

func TestGetFeed_LimitClampAndCursor(t *testing.T) {
	var all []domain.Post
	for i := range 40 {
		all = append(all, post(fmt.Sprintf("p%02d", i), fmt.Sprintf("u%d", i), float64(i), 0, 0))
	}
	posts := &stubPosts{posts: all}
	svc := newTestService(posts, newStubSeen(), nil)
	ctx := context.Background()

	res, err := svc.GetFeed(ctx, Request{Mode: domain.FeedModeUser, AuthorID: "u5", Limit: 500})
	require.NoError(t, err)
	require.Equal(t, MaxLimit*fetchMultiplier, posts.queries[0].Limit)
	require.Len(t, res.Posts, 1)
	// 取得窓が埋まらなかったので終端
	require.Nil(t, res.NextCursor)

	cursor := testNow.Add(-10 * time.Hour).UnixMilli()
	res, err = svc.GetFeed(ctx, Request{Mode: domain.FeedModePopular, Limit: 1, StartAfter: &cursor})
	require.NoError(t, err)
	require.Equal(t, 15, posts.queries[1].Limit)
	require.True(t, posts.queries[1].Before.Equal(testNow.Add(-10*time.Hour)))
	require.Len(t, res.Posts, 1)
	require.Equal(t, "p11", res.Posts[0].ID)
	require.NotNil(t, res.NextCursor)
	require.Equal(t, res.Posts[0].CreatedAt.UnixMilli(), *res.NextCursor)
}

func TestGetFeed_CursorAdvancesWhenWindowFullyFiltered(t *testing.T) {
	var all []domain.Post
	var seenIDs []string
	for i := range 15 {
		id := fmt.Sprintf("p%02d", i)
		all = append(all, post(id, "u1", float64(i), 0, 0))
		seenIDs = append(seenIDs, id)
	}
	seen := newStubSeen()
	seen.seen["viewer"] = seenIDs
	svc := newTestService(&stubPosts{posts: all}, seen, nil)

	res, err := svc.GetFeed(context.Background(), Request{Limit: 1, ViewerID: "viewer"})
	require.NoError(t, err)
	require.Empty(t, res.Posts)
	require.NotNil(t, res.NextCursor)
	// 取得窓の最後のミリ秒は次の問い合わせに含めるため、その1つ手前を指す
	require.Equal(t, all[13].CreatedAt.UnixMilli(), *res.NextCursor)
}

// walk は nextCursor が nil になるまでページを辿り、返った投稿 ID を順に集める
func walk(t *testing.T, svc *Service, req Request) []string {
	t.Helper()
	var got []string
	for range 50 {
		res, err := svc.GetFeed(context.Background(), req)
		require.NoError(t, err)
		got = append(got, resultIDs(res.Posts)...)
		if res.NextCursor == nil {
			return got
		}
		req.StartAfter = res.NextCursor
	}
	t.Fatalf("pagination did not terminate, got %v", got)
	return nil
}

func TestGetFeed_WalkReachesEveryPost(t *testing.T) {
	posts := &stubPosts{posts: []domain.Post{
		post("a", "u1", 1, 0, 0),
		post("b", "u1", 2, 0, 0),
		post("c", "u1", 3, 0, 0),
	}}
	svc := newTestService(posts, newStubSeen(), nil)

	require.Equal(t, []string{"a", "b", "c"}, walk(t, svc, Request{Mode: domain.FeedModeUser, AuthorID: "u1", Limit: 1}))
	require.Equal(t, []string{"a", "b", "c"}, walk(t, svc, Request{Mode: domain.FeedModePopular, Limit: 1}))
}

func TestGetFeed_WalkKeepsSameMillisecondPosts(t *testing.T) {
	base := testNow.Add(-time.Hour).Truncate(time.Millisecond)
	all := []domain.Post{
		{ID: "a", AuthorID: "u1", CreatedAt: base.Add(500 * time.Microsecond)},
		{ID: "b", AuthorID: "u1", CreatedAt: base.Add(200 * time.Microsecond)},
		{ID: "c", AuthorID: "u1", CreatedAt: base.Add(-time.Minute)},
	}
	want := []string{"a", "b", "c"}
	for i := range 20 {
		id := fmt.Sprintf("f%02d", i)
		all = append(all, domain.Post{ID: id, AuthorID: "u1", CreatedAt: base.Add(-time.Duration(i+2) * time.Minute)})
		want = append(want, id)
	}
	svc := newTestService(&stubPosts{posts: all}, newStubSeen(), nil)

	require.Equal(t, want, walk(t, svc, Request{Mode: domain.FeedModeUser, AuthorID: "u1", Limit: 1}))
}

func TestGetFeed_WalkAcrossFullWindows(t *testing.T) {
	base := testNow.Add(-time.Hour).Truncate(time.Millisecond)
	var all []domain.Post
	var want []string
	// 15件ずつの取得窓の境界を同じミリ秒の投稿がまたぐように並べる
	for i := range 40 {
		id := fmt.Sprintf("p%02d", i)
		ms := base.Add(-time.Duration(i/3) * time.Millisecond)
		all = append(all, domain.Post{ID: id, AuthorID: "u1", CreatedAt: ms.Add(time.Duration(2-i%3) * time.Microsecond)})
		want = append(want, id)
	}
	svc := newTestService(&stubPosts{posts: all}, newStubSeen(), nil)

	require.Equal(t, want, walk(t, svc, Request{Mode: domain.FeedModeUser, AuthorID: "u1", Limit: 1}))
}

func TestGetFeed_DegradesOnJoinAndSeenFailures(t *testing.T) {
	profiles := &stubProfiles{
		profiles:  map[string]*domain.UserProfile{"u1": {ID: "u1", DisplayName: "Budi"}},
		authorErr: map[string]error{"u2": errors.New("deadline exceeded")},
	}
	seen := newStubSeen()
	seen.markErr = errors.New("write failed")
	posts := &stubPosts{posts: []domain.Post{
		post("a", "u1", 1, 0, 0),
		post("b", "u2", 2, 0, 0),
	}}
	svc := newTestService(posts, seen, profiles)

	res, err := svc.GetFeed(context.Background(), Request{Mode: domain.FeedModeUser, AuthorID: "u2", ViewerID: "viewer"})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, resultIDs(res.Posts))
	require.Nil(t, res.Posts[0].Author)
}

func TestGetFeed_StoreErrorPropagates(t *testing.T) {
	svc := newTestService(&stubPosts{err: errors.New("unavailable")}, newStubSeen(), nil)

	_, err := svc.GetFeed(context.Background(), Request{})
	require.Error(t, err)
	require.False(t, IsValidationError(err))
}
