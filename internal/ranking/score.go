// Package ranking はフィードのスコア計算と組み立てを行う純粋関数群。
// ストアや時計には依存しない。現在時刻と乱数源は呼び出し側が渡す
package ranking

import (
	"math"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
)

const (
	// FreshWindow より新しい投稿は fresh バケットに入る
	FreshWindow = 48 * time.Hour

	staleAfterHours = 72.0
	stalePenalty    = 5.0
)

// AgeHours は投稿の経過時間（時間単位、小数あり）
func AgeHours(p domain.Post, now time.Time) float64 {
	return now.Sub(p.CreatedAt).Hours()
}

// DiscoveryScore: likes*2 + comments*3 + max(0, 48-age) 、72時間を超えたら -5
func DiscoveryScore(p domain.Post, now time.Time) float64 {
	age := AgeHours(p, now)
	score := float64(p.Likes)*2 + float64(p.Comments)*3 + math.Max(0, FreshWindow.Hours()-age)
	if age > staleAfterHours {
		score -= stalePenalty
	}
	return score
}

// PopularScore: likes*3 + comments*4 - age*0.2
func PopularScore(p domain.Post, now time.Time) float64 {
	return float64(p.Likes)*3 + float64(p.Comments)*4 - AgeHours(p, now)*0.2
}
