package aidispatch

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Capability string

const (
	Chat      Capability = "chat"
	Reasoning Capability = "reasoning"
	Creative  Capability = "creative"
	Image     Capability = "image"
	Video     Capability = "video"
	Research  Capability = "research"
)

// Capabilities は既知のケイパビリティ一覧。manual モードの検証に使う
var Capabilities = []Capability{Chat, Reasoning, Creative, Image, Video, Research}

func (c Capability) Known() bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Routes はケイパビリティ -> 上流 URL
type Routes map[Capability]string

type routesFile struct {
	Routes map[string]string `yaml:"routes"`
}

// DefaultBaseURL は AI_BASE_URL 未設定時の上流ゲートウェイ
const DefaultBaseURL = "http://localhost:8090"

// DefaultRoutes は組み込みのルーティング表。各ケイパビリティを base/<capability> に向ける
func DefaultRoutes(base string) Routes {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	routes := make(Routes, len(Capabilities))
	for _, c := range Capabilities {
		routes[c] = base + "/" + string(c)
	}
	return routes
}

// LoadRoutes は defaults に YAML のルーティング表を上書きする。ファイルが無ければ defaults のまま。
// 値の ${VAR} は環境変数で展開し（上流の API キーを URL に埋め込むため）、展開後に空なら defaults を残す
func LoadRoutes(path string, defaults Routes) (Routes, error) {
	routes := maps.Clone(defaults)
	if routes == nil {
		routes = Routes{}
	}
	if path == "" {
		return routes, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return routes, nil
	} else if err != nil {
		return nil, fmt.Errorf("read ai routes: %w", err)
	}

	var file routesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse ai routes %s: %w", path, err)
	}
	for name, url := range file.Routes {
		c := Capability(name)
		if !c.Known() {
			return nil, fmt.Errorf("%w: %q in %s", ErrInvalidAI, name, path)
		}
		if expanded := strings.TrimSpace(os.ExpandEnv(url)); expanded != "" {
			routes[c] = expanded
		}
	}
	return routes, nil
}
