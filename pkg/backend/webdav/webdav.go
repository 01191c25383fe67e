// Package webdav provides a backend Client for WebDAV servers using
// studio-b12/gowebdav.
//
// Identity metadata for WebDAV is the server ETag when the server reports
// one, with mtime as the usual fallback.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Config holds the connection settings for one WebDAV storage root.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a WebDAV backend.
type Client struct {
	cfg Config
	dav *gowebdav.Client
}

// New returns a client for the given endpoint. The underlying HTTP client
// reconnects on its own, so Connect only verifies reachability.
func New(cfg Config) *Client {
	dav := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		dav.SetTimeout(cfg.Timeout)
	}
	return &Client{cfg: cfg, dav: dav}
}

func (c *Client) Protocol() protocol.Protocol { return protocol.WebDAV }

// Connect lists the collection root as a liveness and auth check.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.dav.ReadDir("/"); err != nil {
		return fmt.Errorf("webdav %s: %w", c.cfg.URL, errors.Join(protocol.ErrUnavailable, err))
	}
	return nil
}

// Disconnect is a no-op; HTTP connections are pooled by the transport.
func (c *Client) Disconnect() error { return nil }

func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.dav.Stat(path.Clean("/" + p))
	if err != nil {
		return nil, mapErr("stat", p, err)
	}
	return fileInfo(p, info), nil
}

func (c *Client) List(ctx context.Context, p string) ([]*protocol.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = path.Clean("/" + p)
	entries, err := c.dav.ReadDir(p)
	if err != nil {
		return nil, mapErr("list", p, err)
	}
	out := make([]*protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, fileInfo(path.Join(p, e.Name()), e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	_, err := c.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := c.dav.ReadStream(path.Clean("/" + p))
	if err != nil {
		return nil, mapErr("open", p, err)
	}
	return r, nil
}

func (c *Client) Create(ctx context.Context, p string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = path.Clean("/" + p)
	if dir := path.Dir(p); dir != "/" {
		if err := c.dav.MkdirAll(dir, 0o755); err != nil {
			return mapErr("create", p, err)
		}
	}
	if err := c.dav.WriteStream(p, r, 0o644); err != nil {
		return mapErr("create", p, err)
	}
	return nil
}

func (c *Client) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dav.MkdirAll(path.Clean("/"+p), 0o755); err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dav.Remove(path.Clean("/" + p)); err != nil {
		return mapErr("remove", p, err)
	}
	return nil
}

func (c *Client) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dav.RemoveAll(path.Clean("/" + p)); err != nil {
		return mapErr("removeall", p, err)
	}
	return nil
}

// Rename maps to a server-side MOVE. Most WebDAV servers implement MOVE as
// a metadata operation, but the capability table still treats it as
// non-atomic because servers backed by object stores copy under the hood.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dav.Rename(path.Clean("/"+oldPath), path.Clean("/"+newPath), false); err != nil {
		return mapErr("rename", oldPath, err)
	}
	return nil
}

func fileInfo(p string, info os.FileInfo) *protocol.FileInfo {
	fi := &protocol.FileInfo{
		Name:     info.Name(),
		Path:     path.Clean("/" + p),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		IsDir:    info.IsDir(),
		Metadata: map[string]string{"mtime": info.ModTime().UTC().Format(time.RFC3339Nano)},
	}
	if tagged, ok := info.(interface{ ETag() string }); ok {
		if etag := tagged.ETag(); etag != "" {
			fi.Metadata["etag"] = etag
		}
	}
	return fi
}

func mapErr(op, p string, err error) error {
	if gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, protocol.ErrNotFound)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return fmt.Errorf("%s %s: %w", op, p, errors.Join(protocol.ErrUnavailable, err))
	}
	// 5xx responses mean the server is up but failing; treat as unavailable
	// so the breaker can shield it.
	for code := 500; code <= 504; code++ {
		if gowebdav.IsErrCode(err, code) {
			return fmt.Errorf("%s %s: %w", op, p, errors.Join(protocol.ErrUnavailable, err))
		}
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}
