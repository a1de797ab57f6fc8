package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrNotFound = errors.New("storage: object not found")

// Object is an open object body plus the headers needed to serve it.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ETag        string
}

// ListPage is one page of keys under a prefix. An empty NextToken means
// the listing is complete.
type ListPage struct {
	Keys      []string
	NextToken string
}

type Storage interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix, token string) (ListPage, error)
}

// SitePrefix is the key prefix shared by every object of a site.
func SitePrefix(brand, site string) string {
	return brand + "/" + site + "/"
}

// ObjectKey maps a site-relative path to its object key. rel must already
// have been through validate.FilePath.
func ObjectKey(brand, site, rel string) string {
	return SitePrefix(brand, site) + rel
}

// ResolvePath turns a request path below the site root into the file to
// serve. Directory requests get index.html.
func ResolvePath(rel string) string {
	if rel == "" || strings.HasSuffix(rel, "/") {
		return rel + "index.html"
	}
	return rel
}

// ListAll walks every page under prefix.
func ListAll(ctx context.Context, s Storage, prefix string) ([]string, error) {
	var (
		keys  []string
		token string
	)
	for {
		page, err := s.List(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)
		if page.NextToken == "" {
			return keys, nil
		}
		token = page.NextToken
	}
}

// ContentHash is the strong ETag value for content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

var contentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".js":          "application/javascript; charset=utf-8",
	".mjs":         "application/javascript; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".xml":         "application/xml",
	".txt":         "text/plain; charset=utf-8",
	".md":          "text/markdown; charset=utf-8",
	".csv":         "text/csv; charset=utf-8",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".avif":        "image/avif",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".pdf":         "application/pdf",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
	".mp3":         "audio/mpeg",
	".wav":         "audio/wav",
	".zip":         "application/zip",
	".webmanifest": "application/manifest+json",
}

// ContentType resolves a MIME type from the file extension.
func ContentType(p string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}
