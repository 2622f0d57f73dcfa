package ranking

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
)

const (
	DefaultFreshShare = 0.7
	DefaultAuthorCap  = 2
)

type HomeOptions struct {
	// FreshShare は fresh バケットから取る割合（切り上げ）
	FreshShare float64
	// AuthorCap は1著者あたりの最大件数
	AuthorCap int
}

func DefaultHomeOptions() HomeOptions {
	return HomeOptions{FreshShare: DefaultFreshShare, AuthorCap: DefaultAuthorCap}
}

// ============================================
// Filters
// ============================================

func ExcludeSeen(posts []domain.Post, seen []string) []domain.Post {
	if len(seen) == 0 {
		return posts
	}
	set := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		set[id] = struct{}{}
	}
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := set[p.ID]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterCategory はカテゴリかタグが一致する投稿を残す。大文字小文字は区別しない
func FilterCategory(posts []domain.Post, category string) []domain.Post {
	category = strings.TrimSpace(category)
	if category == "" {
		return posts
	}
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if strings.EqualFold(p.Category, category) || slices.ContainsFunc(p.Tags, func(t string) bool {
			return strings.EqualFold(t, category)
		}) {
			out = append(out, p)
		}
	}
	return out
}

// MatchQuery はタイトル・本文・タグに対する部分一致検索
func MatchQuery(posts []domain.Post, query string) []domain.Post {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return posts
	}
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if matches(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matches(p domain.Post, q string) bool {
	if strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Body), q) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// ============================================
// Assembly
// ============================================

// Home は discovery フィードを組み立てる。
// fresh/old の各バケットをシャッフルし、fresh から ceil(limit*FreshShare) 件、残りを old から取る。
// 片方が足りない場合はもう片方で埋めてから著者キャップをかけ、最後に全体をシャッフルする
func Home(posts []domain.Post, now time.Time, limit int, opts HomeOptions, rng *rand.Rand) []domain.ScoredPost {
	if limit <= 0 || len(posts) == 0 {
		return []domain.ScoredPost{}
	}
	if opts.FreshShare <= 0 || opts.FreshShare > 1 {
		opts.FreshShare = DefaultFreshShare
	}
	if opts.AuthorCap <= 0 {
		opts.AuthorCap = DefaultAuthorCap
	}

	var fresh, old []domain.ScoredPost
	for _, p := range posts {
		sp := domain.ScoredPost{Post: p, Score: DiscoveryScore(p, now)}
		if now.Sub(p.CreatedAt) < FreshWindow {
			fresh = append(fresh, sp)
		} else {
			old = append(old, sp)
		}
	}
	shuffle(fresh, rng)
	shuffle(old, rng)

	takeFresh := min(int(math.Ceil(float64(limit)*opts.FreshShare)), len(fresh))
	takeOld := min(limit-takeFresh, len(old))

	picked := make([]domain.ScoredPost, 0, len(posts))
	picked = append(picked, fresh[:takeFresh]...)
	picked = append(picked, old[:takeOld]...)
	picked = append(picked, fresh[takeFresh:]...)
	picked = append(picked, old[takeOld:]...)

	out := CapPerAuthor(picked, opts.AuthorCap)
	if len(out) > limit {
		out = out[:limit]
	}
	shuffle(out, rng)
	return out
}

// Popular は popular スコアの降順。同点は取得順（新しい順）を維持する
func Popular(posts []domain.Post, now time.Time, limit int) []domain.ScoredPost {
	scored := make([]domain.ScoredPost, 0, len(posts))
	for _, p := range posts {
		scored = append(scored, domain.ScoredPost{Post: p, Score: PopularScore(p, now)})
	}
	slices.SortStableFunc(scored, func(a, b domain.ScoredPost) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return truncate(scored, limit)
}

// Recent は作成日時の降順
func Recent(posts []domain.Post, limit int) []domain.ScoredPost {
	out := make([]domain.ScoredPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, domain.ScoredPost{Post: p})
	}
	slices.SortStableFunc(out, func(a, b domain.ScoredPost) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(out, limit)
}

// CapPerAuthor は著者ごとに先に現れた perAuthor 件だけ残す
func CapPerAuthor(posts []domain.ScoredPost, perAuthor int) []domain.ScoredPost {
	counts := make(map[string]int)
	out := make([]domain.ScoredPost, 0, len(posts))
	for _, p := range posts {
		if counts[p.AuthorID] >= perAuthor {
			continue
		}
		counts[p.AuthorID]++
		out = append(out, p)
	}
	return out
}

// NextCursor は含まれる投稿のうち最も古い created_at (ms)。空なら nil
func NextCursor(posts []domain.ScoredPost) *int64 {
	if len(posts) == 0 {
		return nil
	}
	oldest := posts[0].CreatedAt
	for _, p := range posts[1:] {
		if p.CreatedAt.Before(oldest) {
			oldest = p.CreatedAt
		}
	}
	ms := oldest.UnixMilli()
	return &ms
}

// ============================================
// Millisecond boundaries
// ============================================

// カーソルはミリ秒単位なので、同じミリ秒の投稿をページや取得窓の境界で分けると
// 次ページの created_at < cursor で取りこぼす。以下の2つで境界をミリ秒単位に揃える

// PageByMillisecond は新しい順に並んだ posts から先頭 limit 件を取る。
// 境界のミリ秒が次の投稿と重なる場合はそのミリ秒の投稿を次ページに回す。
// 1ミリ秒に limit 件を超える投稿がありページが空になる場合は、そのミリ秒の投稿を全て含める
func PageByMillisecond(posts []domain.ScoredPost, limit int) []domain.ScoredPost {
	if limit < 0 || len(posts) <= limit {
		return posts
	}
	if limit == 0 {
		return posts[:0]
	}
	boundary := posts[limit-1].CreatedAt.UnixMilli()
	if posts[limit].CreatedAt.UnixMilli() != boundary {
		return posts[:limit]
	}

	cut := limit
	for cut > 0 && posts[cut-1].CreatedAt.UnixMilli() == boundary {
		cut--
	}
	if cut > 0 {
		return posts[:cut]
	}
	end := limit
	for end < len(posts) && posts[end].CreatedAt.UnixMilli() == boundary {
		end++
	}
	return posts[:end]
}

// DropTrailingMillisecond は新しい順に並んだ取得結果から、最も古いミリ秒の投稿を除く。
// 取得窓が埋まった場合、そのミリ秒の続きがストアに残っている可能性があるため。
// 全件が同じミリ秒ならそのまま返す
func DropTrailingMillisecond(posts []domain.Post) []domain.Post {
	if len(posts) == 0 {
		return posts
	}
	last := posts[len(posts)-1].CreatedAt.UnixMilli()
	i := len(posts)
	for i > 0 && posts[i-1].CreatedAt.UnixMilli() == last {
		i--
	}
	if i == 0 {
		return posts
	}
	return posts[:i]
}

func shuffle(posts []domain.ScoredPost, rng *rand.Rand) {
	rng.Shuffle(len(posts), func(i, j int) {
		posts[i], posts[j] = posts[j], posts[i]
	})
}

func truncate(posts []domain.ScoredPost, limit int) []domain.ScoredPost {
	if limit >= 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}
