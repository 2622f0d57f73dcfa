package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-API-Key"

var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyVerifier はフィード API キーを bcrypt のハッシュだけ保持して照合する。
// 平文のキーはプロセス内に残さない
type APIKeyVerifier struct {
	hash []byte
}

// NewAPIKeyVerifier: key が空なら全てのリクエストを拒否する
func NewAPIKeyVerifier(key string) (*APIKeyVerifier, error) {
	if key == "" {
		return &APIKeyVerifier{}, nil
	}
	// bcrypt は 72 バイトを超える入力を受け付けない。照合は毎リクエストなので MinCost
	if len(key) > 72 {
		return nil, fmt.Errorf("api key longer than 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	return &APIKeyVerifier{hash: hash}, nil
}

func (v *APIKeyVerifier) Verify(key string) error {
	if len(v.hash) == 0 || key == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// Middleware はヘッダ X-API-Key かクエリ apiKey を要求する
func (v *APIKeyVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = r.URL.Query().Get("apiKey")
		}
		if err := v.Verify(key); err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
