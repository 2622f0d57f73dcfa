// Package config は .env と環境変数から設定を読む
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/joho/godotenv"
)

const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"

	SeenStore = "store"
	SeenRedis = "redis"
)

type Config struct {
	Port string

	StoreBackend string
	DatabaseURL  string

	FirebaseProjectID      string
	FirebaseServiceAccount []byte

	SeenBackend   string
	RedisAddr     string
	RedisPassword string

	JWTSecret  []byte
	FeedAPIKey string

	Public domain.PublicConfig

	SiteURL     string
	SitemapDirs []string

	AllowedOrigins  []string
	ProfileCacheTTL time.Duration
	AuthorCap       int

	// AIBaseURL は組み込みルーティング表の上流。空なら aidispatch.DefaultBaseURL
	AIBaseURL    string
	AIRoutesFile string
	AITimeout    time.Duration
}

// Load は .env があれば読み込み（既存の環境変数は上書きしない）、環境変数から Config を組み立てる
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:          getenv("PORT", "8080"),
		StoreBackend:  getenv("STORE_BACKEND", StorePostgres),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SeenBackend:   getenv("SEEN_BACKEND", SeenStore),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		FirebaseProjectID: os.Getenv("FIREBASE_PROJECT_ID"),

		JWTSecret:  []byte(os.Getenv("JWT_SECRET")),
		FeedAPIKey: os.Getenv("FEED_API_KEY"),

		Public: domain.PublicConfig{
			AppName: getenv("APP_NAME", "BguneNet"),
			Logo:    os.Getenv("APP_LOGO"),
			Firebase: domain.FirebaseClientConfig{
				APIKey:            os.Getenv("FIREBASE_API_KEY"),
				AuthDomain:        os.Getenv("FIREBASE_AUTH_DOMAIN"),
				ProjectID:         os.Getenv("FIREBASE_PROJECT_ID"),
				StorageBucket:     os.Getenv("FIREBASE_STORAGE_BUCKET"),
				MessagingSenderID: os.Getenv("FIREBASE_MESSAGING_SENDER_ID"),
				AppID:             os.Getenv("FIREBASE_APP_ID"),
				MeasurementID:     os.Getenv("FIREBASE_MEASUREMENT_ID"),
			},
		},

		SiteURL:        getenv("SITE_URL", "http://localhost:8080"),
		SitemapDirs:    splitList(getenv("SITEMAP_DIRS", "public/pages,public/posts")),
		AllowedOrigins: splitList(getenv("ALLOWED_ORIGINS", "http://localhost:5173")),
		AIBaseURL:      strings.TrimSpace(os.Getenv("AI_BASE_URL")),
		AIRoutesFile:   getenv("AI_ROUTES_FILE", "ai_routes.yaml"),
	}

	var err error
	if cfg.FirebaseServiceAccount, err = decodeServiceAccount(os.Getenv("FIREBASE_SERVICE_ACCOUNT")); err != nil {
		return nil, err
	}
	if cfg.ProfileCacheTTL, err = getDuration("PROFILE_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AITimeout, err = getDuration("AI_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuthorCap, err = getInt("AUTHOR_CAP", 2); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres store")
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for firestore store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.SeenBackend {
	case SeenStore, SeenRedis:
	default:
		return fmt.Errorf("unknown SEEN_BACKEND %q", c.SeenBackend)
	}
	return nil
}

// decodeServiceAccount はサービスアカウントの JSON をそのまま、または base64 で受け付ける
func decodeServiceAccount(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "{") {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode FIREBASE_SERVICE_ACCOUNT: %w", err)
	}
	return decoded, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
