package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserIDKey contextKey = "userID"

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrTokenNotSet  = errors.New("token is not set")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

func GenerateToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

func ValidateToken(secret []byte, r *http.Request) (string, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		return "", ErrTokenNotSet
	}
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}

		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: user_id is not found in token", ErrInvalidToken)
	}

	return userID, nil
}

// OptionalMiddleware はトークンがあれば検証して閲覧者 ID を context に入れる。
// トークンが無いリクエストはそのまま通す（匿名の閲覧者）
func OptionalMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := ValidateToken(secret, r)
			if errors.Is(err, ErrTokenNotSet) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ViewerID は OptionalMiddleware が入れた閲覧者 ID。無ければ空文字
func ViewerID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Code: http.StatusUnauthorized, Message: message})
}
