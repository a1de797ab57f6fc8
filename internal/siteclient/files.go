package siteclient

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sdko-org/site-gateway/internal/validate"
)

// ReadBuildDir base64-encodes every regular file under dir, keyed by its
// slash-separated path relative to dir. dir must contain index.html.
func ReadBuildDir(dir string) (map[string]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return nil, fmt.Errorf("%s/index.html not found", dir)
	}

	files := make(map[string]string)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = base64.StdEncoding.EncodeToString(content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// WriteFiles decodes files into dir and returns the number of bytes
// written. Paths are validated first so a hostile response cannot escape
// dir.
func WriteFiles(dir string, files map[string]string) (int64, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var total int64
	for _, p := range paths {
		clean, err := validate.FilePath(p)
		if err != nil {
			return total, fmt.Errorf("refusing to write %q: %w", p, err)
		}
		content, err := base64.StdEncoding.DecodeString(files[p])
		if err != nil {
			return total, fmt.Errorf("decode %q: %w", p, err)
		}
		dst := filepath.Join(dir, filepath.FromSlash(clean))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return total, err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return total, err
		}
		total += int64(len(content))
	}
	return total, nil
}

type brandKit struct {
	Tokens struct {
		Colors map[string]string `json:"colors"`
	} `json:"tokens"`
}

// ReadBrandTokens extracts tokens.colors from a brand kit manifest.
func ReadBrandTokens(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kit brandKit
	if err := json.Unmarshal(raw, &kit); err != nil {
		return nil, fmt.Errorf("parse brand kit %s: %w", path, err)
	}
	if len(kit.Tokens.Colors) == 0 {
		return nil, errors.New("brand kit has no tokens.colors")
	}
	return kit.Tokens.Colors, nil
}
