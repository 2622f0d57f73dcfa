// Package aidispatch はプロンプトを上流の AI サービスに振り分ける。
// 意図の分類とモードで呼び出すケイパビリティを決め、順番に POST して結果を連結する
package aidispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// Separator は複数の回答を連結する区切り
const Separator = "\n\n—\n\n"

const DefaultTimeout = 60 * time.Second

const (
	ModeAuto     = "auto"
	ModeFast     = "fast"
	ModeCreative = "creative"
	ModeDeep     = "deep"
	ModeManual   = "manual"

	IntentImage    = "image"
	IntentVideo    = "video"
	IntentResearch = "research"
	IntentGeneral  = "general"
)

var (
	ErrInvalidAI     = errors.New("invalid ai")
	ErrInvalidMode   = errors.New("invalid ai mode")
	ErrMissingQuery  = errors.New("query is required")
	ErrNotConfigured = errors.New("ai route not configured")
	ErrUpstream      = errors.New("ai upstream failed")
)

// 上から順に判定する
var intentRules = []struct {
	intent   string
	keywords []string
	targets  []Capability
}{
	{IntentImage, []string{"gambar", "foto", "image", "lukis", "draw", "picture", "logo", "ilustrasi"}, []Capability{Image}},
	{IntentVideo, []string{"video", "animasi", "animation", "clip", "film"}, []Capability{Video}},
	{IntentResearch, []string{"riset", "research", "jurnal", "analisis", "analyze", "paper", "sumber", "penelitian"}, []Capability{Research}},
}

var modeTargets = map[string][]Capability{
	ModeFast:     {Chat},
	ModeCreative: {Creative},
	ModeDeep:     {Reasoning, Research, Chat},
}

// Classify はクエリの意図と呼び出すケイパビリティを返す
func Classify(query string) (string, []Capability) {
	q := strings.ToLower(query)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				return rule.intent, rule.targets
			}
		}
	}
	return IntentGeneral, []Capability{Chat, Reasoning}
}

// Plan はモードを考慮して呼び出し順を決める。外部呼び出しはしない
func Plan(query, mode, target string) (string, []Capability, error) {
	intent, targets := Classify(query)
	switch mode {
	case "", ModeAuto:
		return intent, targets, nil
	case ModeManual:
		c := Capability(strings.ToLower(strings.TrimSpace(target)))
		if !c.Known() {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidAI, target)
		}
		return intent, []Capability{c}, nil
	}
	if fixed, ok := modeTargets[mode]; ok {
		return intent, fixed, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
}

type Answer struct {
	Mode   string
	Intent string
	Used   []Capability
	Text   string
}

type Dispatcher struct {
	routes Routes
	client *http.Client
	log    *log.Helper
}

func NewDispatcher(routes Routes, client *http.Client, logger log.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Dispatcher{routes: routes, client: client, log: log.NewHelper(logger)}
}

// Route は計画したケイパビリティを順番に呼ぶ。1つでも失敗したら全体を失敗させる
func (d *Dispatcher) Route(ctx context.Context, query, mode, target string) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrMissingQuery
	}
	if mode == "" {
		mode = ModeAuto
	}
	intent, targets, err := Plan(query, mode, target)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(targets))
	for _, c := range targets {
		text, err := d.call(ctx, c, query)
		if err != nil {
			d.log.WithContext(ctx).Errorw("msg", "ai call failed", "capability", string(c), "mode", mode, "error", err)
			return nil, err
		}
		texts = append(texts, text)
	}

	return &Answer{
		Mode:   mode,
		Intent: intent,
		Used:   targets,
		Text:   strings.Join(texts, Separator),
	}, nil
}

func (d *Dispatcher) call(ctx context.Context, c Capability, query string) (string, error) {
	url := d.routes[c]
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, c)
	}

	body, err := json.Marshal(map[string]string{"prompt": query})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", c, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUpstream, c, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %v", ErrUpstream, c, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s: status %d", ErrUpstream, c, resp.StatusCode)
	}
	d.log.WithContext(ctx).Debugw("msg", "ai call", "capability", string(c), "status", resp.StatusCode, "latency", time.Since(start))
	return extractText(raw), nil
}

// extractText は result / response / text / output の順に文字列フィールドを探す。
// JSON でなければ本文をそのまま返す
func extractText(raw []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, key := range []string{"result", "response", "text", "output"} {
			if s, ok := fields[key].(string); ok {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
