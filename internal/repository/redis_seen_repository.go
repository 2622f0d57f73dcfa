package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "seen:"

// RedisSeenRepository は配信済み集合を Redis の SET で持つ
type RedisSeenRepository struct {
	client *redis.Client
}

func NewRedisSeenRepository(ctx context.Context, addr, password string) (*RedisSeenRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSeenRepository{client: client}, nil
}

func (r *RedisSeenRepository) SeenPosts(ctx context.Context, viewerID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, seenKeyPrefix+viewerID).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	return ids, nil
}

// MarkSeen は SADD なので同時リクエストでも和集合になる
func (r *RedisSeenRepository) MarkSeen(ctx context.Context, viewerID string, postIDs []string) error {
	if len(postIDs) == 0 {
		return ErrNoPostIDs
	}
	members := make([]interface{}, 0, len(postIDs))
	for _, id := range postIDs {
		members = append(members, id)
	}
	if err := r.client.SAdd(ctx, seenKeyPrefix+viewerID, members...).Err(); err != nil {
		return fmt.Errorf("sadd: %w", err)
	}
	return nil
}

func (r *RedisSeenRepository) Close() error {
	return r.client.Close()
}
