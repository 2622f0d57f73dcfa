package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/aidispatch"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/auth"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/domain"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/feed"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/sitemap"
	"github.com/go-kratos/kratos/v2/log"
)

type FeedService interface {
	GetFeed(ctx context.Context, req feed.Request) (*feed.Result, error)
}

type AIRouter interface {
	Route(ctx context.Context, query, mode, target string) (*aidispatch.Answer, error)
}

type SitemapConfig struct {
	BaseURL string
	Dirs    []string
}

type Handler struct {
	feed    FeedService
	ai      AIRouter
	public  domain.PublicConfig
	sitemap SitemapConfig
	now     func() time.Time
	log     *log.Helper
}

func New(feedService FeedService, ai AIRouter, public domain.PublicConfig, sm SitemapConfig, logger log.Logger) *Handler {
	return &Handler{
		feed:    feedService,
		ai:      ai,
		public:  public,
		sitemap: sm,
		now:     time.Now,
		log:     log.NewHelper(logger),
	}
}

// ============================================
// Feed
// ============================================

// Feed は GET /api/feed
// userId = 閲覧者, profileId = user モードの著者
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := feedRequest(r, q.Get("userId"), q.Get("profileId"), q.Get("startAfter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.feed.GetFeed(r.Context(), req)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.FeedResponse{
		Posts:         domain.NewFeedPosts(res.Posts),
		LastTimestamp: res.NextCursor,
	})
}

// APIFeed は GET /api/v1/feed（API キー必須）
// viewerId = 閲覧者, userId = user モードの著者
func (h *Handler) APIFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := feedRequest(r, q.Get("viewerId"), q.Get("userId"), q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.feed.GetFeed(r.Context(), req)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.APIFeedResponse{
		Posts:      domain.NewFeedPosts(res.Posts),
		NextCursor: res.NextCursor,
	})
}

func feedRequest(r *http.Request, viewerID, authorID, cursor string) (feed.Request, error) {
	q := r.URL.Query()
	req := feed.Request{
		Mode:     domain.FeedMode(strings.ToLower(q.Get("mode"))),
		ViewerID: viewerID,
		AuthorID: authorID,
		Query:    q.Get("q"),
		Category: q.Get("category"),
	}
	// トークンの閲覧者がクエリより優先
	if id := auth.ViewerID(r.Context()); id != "" {
		req.ViewerID = id
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return feed.Request{}, errors.New("limit must be an integer")
		}
		req.Limit = n
	}
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return feed.Request{}, errors.New("cursor must be a millisecond timestamp")
		}
		req.StartAfter = &ms
	}
	return req, nil
}

func (h *Handler) writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	if feed.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.WithContext(r.Context()).Errorw("msg", "get feed failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// ============================================
// AI
// ============================================

// AI は GET /api/bguneai?q&mode&ai&raw
func (h *Handler) AI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	mode := strings.ToLower(q.Get("mode"))
	target := q.Get("ai")

	ans, err := h.ai.Route(r.Context(), query, mode, target)
	if err != nil {
		switch {
		case errors.Is(err, aidispatch.ErrInvalidAI),
			errors.Is(err, aidispatch.ErrInvalidMode),
			errors.Is(err, aidispatch.ErrMissingQuery):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.WithContext(r.Context()).Errorw("msg", "ai dispatch failed", "mode", mode, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if raw := q.Get("raw"); raw == "1" || raw == "true" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(ans.Text))
		return
	}

	used := make([]string, 0, len(ans.Used))
	for _, c := range ans.Used {
		used = append(used, string(c))
	}
	if target == "" {
		target = aidispatch.ModeAuto
	}
	writeJSON(w, http.StatusOK, domain.AIResponse{
		AI:         target,
		Mode:       ans.Mode,
		Intent:     ans.Intent,
		UsedModels: used,
		Result:     ans.Text,
	})
}

// ============================================
// Static
// ============================================

func (h *Handler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.public)
}

func (h *Handler) Sitemap(w http.ResponseWriter, r *http.Request) {
	body, err := sitemap.Generate(h.sitemap.BaseURL, h.sitemap.Dirs, h.now())
	if err != nil {
		h.log.WithContext(r.Context()).Errorw("msg", "generate sitemap failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, domain.ErrorResponse{Code: status, Message: message})
}
