package io

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"

	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

// ProxiesRepository loads line based proxy lists.
type ProxiesRepository struct {
	fs fs.FS
}

// NewProxiesRepository creates a new proxies repository.
func NewProxiesRepository(filesystem fs.FS) *ProxiesRepository {
	return &ProxiesRepository{fs: filesystem}
}

// ListProxies loads the proxies of a file, a file without proxies is an error.
func (r *ProxiesRepository) ListProxies(ctx context.Context, path string) ([]model.ProxyEndpoint, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading proxies file: %w: %w", err, model.ErrConfig)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	proxies, err := proxy.ParseList(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing proxies: %w: %w", err, model.ErrConfig)
	}

	if len(proxies) == 0 {
		return nil, fmt.Errorf("proxies file %s has no proxies: %w", path, model.ErrConfig)
	}

	return proxies, nil
}
