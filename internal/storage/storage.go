// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage is the media object store: a directory tree published
// under a public base URL. Writes are atomic and durable; a reader never
// observes a partially written object.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/reelstream/internal/domain/media"
	xglog "github.com/ManuGH/reelstream/internal/log"
)

var (
	ErrInvalidKey = errors.New("storage: invalid object key")
	ErrForeignURL = errors.New("storage: url is not served by this store")
)

// FS stores objects below Root and addresses them as BaseURL + "/" + key.
type FS struct {
	root    string
	baseURL string
}

// New creates the root directory if needed. baseURL is the public address
// the root is served at, e.g. https://cdn.example.com/media.
func New(root, baseURL string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("storage: base url %q must be absolute", baseURL)
	}
	return &FS{root: resolved, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the resolved storage directory.
func (s *FS) Root() string { return s.root }

// URL returns the public address of key.
func (s *FS) URL(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segs, "/")
}

// Key maps a public URL back to its object key.
func (s *FS) Key(rawURL string) (string, error) {
	rest, ok := strings.CutPrefix(rawURL, s.baseURL+"/")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, rawURL)
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Path returns the file path key is stored at.
func (s *FS) Path(key string) (string, error) {
	return confine(s.root, key)
}

// LocalPath resolves a URL served by this store to its file on disk.
func (s *FS) LocalPath(rawURL string) (string, error) {
	key, err := s.Key(rawURL)
	if err != nil {
		return "", err
	}
	return confine(s.root, key)
}

// Put writes r under key and returns the object's public URL.
func (s *FS) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	p, err := confine(s.root, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}

	pending, err := renameio.NewPendingFile(p, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("storage: create pending object: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := xglog.WithComponentFromContext(ctx, "storage")
			logger.Debug().Err(err).Str("key", key).Msg("cleanup pending object")
		}
	}()

	if _, err := io.Copy(pending, &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("storage: commit %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Delete removes the object at rawURL. Missing objects and URLs that are not
// served by this store report false without error.
func (s *FS) Delete(ctx context.Context, rawURL string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := s.Key(rawURL)
	if errors.Is(err, ErrForeignURL) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p, err := confine(s.root, key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: delete %s: %w", key, err)
	}
	s.pruneEmptyDirs(filepath.Dir(p))
	return true, nil
}

// DeletePrefix removes every object below prefix and returns how many were removed.
func (s *FS) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	urls, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	p, err := confine(s.root, strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(p); err != nil {
		return 0, fmt.Errorf("storage: delete prefix %s: %w", prefix, err)
	}
	s.pruneEmptyDirs(filepath.Dir(p))
	return len(urls), nil
}

// List returns the public URLs of all objects whose key starts with prefix,
// sorted by key. A prefix that names no directory yields an empty list.
func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	dirKey := prefix
	if !strings.HasSuffix(prefix, "/") {
		dirKey = path.Dir(prefix)
	}
	dirKey = strings.TrimSuffix(dirKey, "/")

	dir := s.root
	if dirKey != "" && dirKey != "." {
		var err error
		if dir, err = confine(s.root, dirKey); err != nil {
			return nil, err
		}
	}

	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = s.URL(k)
	}
	return urls, nil
}

func (s *FS) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Handler serves stored objects read-only. Directory listings are refused.
// It stands in for a public CDN origin and performs no access check: the
// access evaluator only decides who is told a streaming address, and HLS
// output keys are predictable, so anyone who can reach this handler can
// fetch any object.
func (s *FS) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		}
		files.ServeHTTP(w, r)
	})
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ media.Storage = (*FS)(nil)
