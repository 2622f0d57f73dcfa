// Package profile はフィードに著者情報を結合するためのプロフィールキャッシュ。
// プロセス内のみで有効。インスタンス間の整合性は持たない
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/repository"
	"github.com/go-kratos/kratos/v2/log"
)

const DefaultTTL = 5 * time.Minute

type Store interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

type entry struct {
	profile   *domain.UserProfile
	expiresAt time.Time
}

// Cache は userID -> プロフィールの TTL キャッシュ。
// 見つからなかった場合も nil をキャッシュする。期限切れのエントリは返さない
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *log.Helper

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(store Store, ttl time.Duration, now func() time.Time, logger log.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		now:     now,
		log:     log.NewHelper(logger),
		entries: make(map[string]entry),
	}
}

func (c *Cache) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		return e.profile, nil
	}
	if ok {
		delete(c.entries, userID)
	}
	c.mu.Unlock()

	p, err := c.store.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		c.log.WithContext(ctx).Debugw("msg", "profile not found, caching miss", "user_id", userID)
		p = nil
	} else if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	c.mu.Lock()
	c.entries[userID] = entry{profile: p, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// Author は結合用の軽量スナップショット。プロフィールが無ければ nil
func (c *Cache) Author(ctx context.Context, userID string) (*domain.Author, error) {
	p, err := c.Get(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	return &domain.Author{ID: p.ID, Name: p.DisplayName, AvatarURL: p.AvatarURL}, nil
}

