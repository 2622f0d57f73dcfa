// Package sitemap は静的ページのディレクトリから sitemap.xml を生成する
package sitemap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

var DefaultDirs = []string{"public/pages", "public/posts"}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []url    `xml:"url"`
}

type url struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// Generate はサイトルートを先頭に、各ディレクトリのファイルを URL として並べる。
// 存在しないディレクトリは無視する
func Generate(baseURL string, dirs []string, now time.Time) ([]byte, error) {
	base := strings.TrimRight(baseURL, "/")
	set := urlSet{
		Xmlns: xmlns,
		URLs:  []url{{Loc: base + "/", LastMod: now.Format(time.DateOnly)}},
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		section := filepath.Base(filepath.Clean(dir))
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
			}
			set.URLs = append(set.URLs, url{
				Loc:     location(base, section, entry.Name()),
				LastMod: info.ModTime().UTC().Format(time.DateOnly),
			})
		}
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// location: foo.html -> /section/foo, index.html -> /section/
func location(base, section, name string) string {
	slug := strings.TrimSuffix(name, ".html")
	if slug == "index" {
		return base + "/" + section + "/"
	}
	return base + "/" + section + "/" + slug
}
