// Package file implements the provider interface for local filesystem
// paths. It backs tests and local development, where each bucket maps to
// a base directory.
package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"context"

	"github.com/3leaps/pokefantasia/pkg/provider"
)

// Provider implements provider.Provider for a directory.
//
// Keys are treated as relative paths under BaseDir. Content type and
// user metadata are persisted in a sidecar file next to the object
// (<key>.meta.json) since the filesystem has nowhere else to keep them.
type Provider struct {
	baseDir string
}

var _ provider.Provider = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (p *Provider) Close() error { return nil }

const sidecarSuffix = ".meta.json"

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	full := filepath.Join(p.baseDir, filepath.FromSlash(key))
	// Reject traversal outside the base dir.
	rel, err := filepath.Rel(p.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes base dir: %q", key)
	}
	return full, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil || st.IsDir() {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: provider.ErrNotFound}
	}

	meta := &provider.ObjectMeta{
		Key:          key,
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}
	if b, err := os.ReadFile(full + sidecarSuffix); err == nil {
		var sc sidecar
		if err := json.Unmarshal(b, &sc); err == nil {
			meta.ContentType = sc.ContentType
			meta.Metadata = sc.Metadata
		}
	}
	return meta, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	st, err := os.Stat(full)
	if err != nil || st.IsDir() {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: provider.ErrNotFound}
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, st.Size(), nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) error {
	_ = ctx
	_ = contentLength
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.WriteFile(full, buf.Bytes(), 0644); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	if opts.ContentType == "" && len(opts.Metadata) == 0 {
		return nil
	}
	sc := sidecar{ContentType: opts.ContentType, Metadata: lowerKeys(opts.Metadata)}
	b, err := json.Marshal(sc)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.WriteFile(full+sidecarSuffix, b, 0644); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// lowerKeys mirrors S3's lowercasing of user metadata keys so both
// providers surface identical metadata.
func lowerKeys(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
}
