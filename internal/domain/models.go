package domain

import "time"

// ============================================
// Domain Models
// ============================================

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"userId"`
	Title     string    `json:"title"`
	Body      string    `json:"content"`
	MediaURLs []string  `json:"mediaUrls,omitempty"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	// レスポンスでは FeedPost.Timestamp (ms) として出す
	CreatedAt time.Time `json:"-"`
}

// UserProfile の SeenPosts は追記のみ。削除はしない
type UserProfile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"name"`
	AvatarURL   string   `json:"avatarUrl"`
	SeenPosts   []string `json:"-"`
	Following   []string `json:"-"`
}

// Author はフィードに結合する軽量なプロフィール
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ScoredPost はリクエスト毎に計算される。永続化しない
type ScoredPost struct {
	Post
	Score  float64
	Author *Author
}

type FeedMode string

const (
	FeedModeHome      FeedMode = "home"
	FeedModePopular   FeedMode = "popular"
	FeedModeSearch    FeedMode = "search"
	FeedModeUser      FeedMode = "user"
	FeedModeFollowing FeedMode = "following"
)

func (m FeedMode) Valid() bool {
	switch m {
	case FeedModeHome, FeedModePopular, FeedModeSearch, FeedModeUser, FeedModeFollowing:
		return true
	}
	return false
}

// PostQuery はストアへの問い合わせ条件。created_at の降順で返す
type PostQuery struct {
	Before    *time.Time
	AuthorIDs []string
	Limit     int
}

// ============================================
// Request/Response Models
// ============================================

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type FeedPost struct {
	ID        string   `json:"id"`
	UserID    string   `json:"userId"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Likes     int64    `json:"likes"`
	Comments  int64    `json:"comments"`
	Timestamp int64    `json:"timestamp"`
	Score     float64  `json:"score"`
	User      *Author  `json:"user,omitempty"`
}

func NewFeedPost(p ScoredPost) FeedPost {
	return FeedPost{
		ID:        p.ID,
		UserID:    p.AuthorID,
		Title:     p.Title,
		Content:   p.Body,
		MediaURLs: p.MediaURLs,
		Category:  p.Category,
		Tags:      p.Tags,
		Likes:     p.Likes,
		Comments:  p.Comments,
		Timestamp: p.CreatedAt.UnixMilli(),
		Score:     p.Score,
		User:      p.Author,
	}
}

func NewFeedPosts(posts []ScoredPost) []FeedPost {
	out := make([]FeedPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, NewFeedPost(p))
	}
	return out
}

type FeedResponse struct {
	Posts         []FeedPost `json:"posts"`
	LastTimestamp *int64     `json:"lastTimestamp"`
}

type APIFeedResponse struct {
	Posts      []FeedPost `json:"posts"`
	NextCursor *int64     `json:"nextCursor"`
}

type AIResponse struct {
	AI         string   `json:"ai"`
	Mode       string   `json:"mode"`
	Intent     string   `json:"intent"`
	UsedModels []string `json:"used_models"`
	Result     string   `json:"result"`
}

type FirebaseClientConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
	MeasurementID     string `json:"measurementId,omitempty"`
}

type PublicConfig struct {
	AppName  string               `json:"appName"`
	Logo     string               `json:"logo"`
	Firebase FirebaseClientConfig `json:"firebaseConfig"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
