package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	postsCollection = "posts"
	usersCollection = "users"

	// Firestore の "in" 演算子に渡せる値の上限
	maxInValues = 30
)

// FirestoreRepository は posts / users コレクションを読むストア。
// PostgreSQL 版と同じインターフェースを満たす
type FirestoreRepository struct {
	client *firestore.Client
}

func NewFirestoreRepository(ctx context.Context, projectID string, credentialsJSON []byte) (*FirestoreRepository, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &FirestoreRepository{client: client}, nil
}

// ListPosts は新しい順に q.Limit 件まで返す。
// "in" に渡せる著者数を超える場合は 30 人ずつのクエリに分け、結果をマージして上限で切る
func (r *FirestoreRepository) ListPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	chunks := chunkAuthors(q.AuthorIDs, maxInValues)
	if len(chunks) <= 1 {
		var authorIDs []string
		if len(chunks) == 1 {
			authorIDs = chunks[0]
		}
		return r.queryPosts(ctx, q, authorIDs)
	}

	var merged []domain.Post
	for _, authorIDs := range chunks {
		posts, err := r.queryPosts(ctx, q, authorIDs)
		if err != nil {
			return nil, err
		}
		merged = append(merged, posts...)
	}
	return mergeNewestFirst(merged, q.Limit), nil
}

func (r *FirestoreRepository) queryPosts(ctx context.Context, q domain.PostQuery, authorIDs []string) ([]domain.Post, error) {
	query := r.client.Collection(postsCollection).OrderBy("timestamp", firestore.Desc)
	if q.Before != nil {
		query = query.Where("timestamp", "<", *q.Before)
	}
	switch len(authorIDs) {
	case 0:
	case 1:
		query = query.Where("userId", "==", authorIDs[0])
	default:
		query = query.Where("userId", "in", authorIDs)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	posts := make([]domain.Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, postFromData(doc.Ref.ID, doc.Data()))
	}
	return posts, nil
}

// chunkAuthors は重複を除いた著者 ID を size 人ずつに分ける
func chunkAuthors(authorIDs []string, size int) [][]string {
	seen := make(map[string]struct{}, len(authorIDs))
	unique := make([]string, 0, len(authorIDs))
	for _, id := range authorIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	var chunks [][]string
	for chunk := range slices.Chunk(unique, size) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// mergeNewestFirst は timestamp の降順（同時刻は ID の降順）に並べ、limit 件で切る
func mergeNewestFirst(posts []domain.Post, limit int) []domain.Post {
	slices.SortFunc(posts, func(a, b domain.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts
}

func (r *FirestoreRepository) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	doc, err := r.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return profileFromData(doc.Ref.ID, doc.Data()), nil
}

func (r *FirestoreRepository) SeenPosts(ctx context.Context, viewerID string) ([]string, error) {
	profile, err := r.GetProfile(ctx, viewerID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return profile.SeenPosts, nil
}

// MarkSeen は arrayUnion で追記する。既存の要素は消えない
func (r *FirestoreRepository) MarkSeen(ctx context.Context, viewerID string, postIDs []string) error {
	if len(postIDs) == 0 {
		return ErrNoPostIDs
	}
	elems := make([]interface{}, 0, len(postIDs))
	for _, id := range postIDs {
		elems = append(elems, id)
	}
	_, err := r.client.Collection(usersCollection).Doc(viewerID).Set(ctx, map[string]interface{}{
		"seenPosts": firestore.ArrayUnion(elems...),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("update seen posts: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}

// ============================================
// Document mapping
// ============================================

// 古いクライアントが書いたドキュメントは likes を ID 配列で、
// timestamp をミリ秒の数値で持つことがあるので両方読む
func postFromData(id string, data map[string]interface{}) domain.Post {
	return domain.Post{
		ID:        id,
		AuthorID:  asString(data["userId"]),
		Title:     asString(data["title"]),
		Body:      asString(data["content"]),
		MediaURLs: mediaURLs(data),
		Category:  asString(data["category"]),
		Tags:      asStrings(data["tags"]),
		Likes:     asCount(data["likes"]),
		Comments:  asCount(data["comments"]),
		CreatedAt: asTime(data["timestamp"]),
	}
}

func profileFromData(id string, data map[string]interface{}) *domain.UserProfile {
	name := asString(data["displayName"])
	if name == "" {
		name = asString(data["username"])
	}
	avatar := asString(data["photoURL"])
	if avatar == "" {
		avatar = asString(data["avatar"])
	}
	return &domain.UserProfile{
		ID:          id,
		DisplayName: name,
		AvatarURL:   avatar,
		SeenPosts:   asStrings(data["seenPosts"]),
		Following:   asStrings(data["following"]),
	}
}

func mediaURLs(data map[string]interface{}) []string {
	if urls := asStrings(data["mediaUrls"]); len(urls) > 0 {
		return urls
	}
	if url := asString(data["mediaUrl"]); url != "" {
		return []string{url}
	}
	return nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asCount(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case []interface{}:
		return int64(len(n))
	}
	return 0
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case int64:
		return time.UnixMilli(t)
	case float64:
		return time.UnixMilli(int64(t))
	}
	return time.Time{}
}
