// Package local provides an os-based backend Client rooted at a directory
// on the local filesystem.
//
// Paths handed to the client are rooted, slash-separated paths relative to
// the configured base directory. The client never escapes the base: paths
// are cleaned before being joined.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Client is a local filesystem backend.
type Client struct {
	base string
}

// New returns a client rooted at base. The directory must exist by the time
// Connect is called.
func New(base string) *Client {
	return &Client{base: filepath.Clean(base)}
}

func (c *Client) Protocol() protocol.Protocol { return protocol.Local }

// Connect verifies the base directory is present and readable.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(c.base)
	if err != nil {
		return fmt.Errorf("local backend %s: %w", c.base, errors.Join(protocol.ErrUnavailable, err))
	}
	if !info.IsDir() {
		return fmt.Errorf("local backend %s: not a directory: %w", c.base, protocol.ErrUnavailable)
	}
	return nil
}

// Disconnect is a no-op for the local backend.
func (c *Client) Disconnect() error { return nil }

// BasePath returns the absolute directory this client is rooted at. The
// fsnotify source needs it to register OS watches.
func (c *Client) BasePath() string { return c.base }

func (c *Client) resolve(p string) string {
	return filepath.Join(c.base, filepath.FromSlash(path.Clean("/"+p)))
}

func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(c.resolve(p))
	if err != nil {
		return nil, mapErr("stat", p, err)
	}
	return c.fileInfo(p, info), nil
}

func (c *Client) List(ctx context.Context, p string) ([]*protocol.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(c.resolve(p))
	if err != nil {
		return nil, mapErr("list", p, err)
	}
	out := make([]*protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		out = append(out, c.fileInfo(path.Join("/", path.Clean("/"+p), e.Name()), info))
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
	f, err := os.Open(c.resolve(p))
	if err != nil {
		return nil, mapErr("open", p, err)
	}
	return f, nil
}

func (c *Client) Create(ctx context.Context, p string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := c.resolve(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return mapErr("create", p, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return mapErr("create", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return fmt.Errorf("create %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	return nil
}

func (c *Client) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.resolve(p), 0o755); err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(c.resolve(p)); err != nil {
		return mapErr("remove", p, err)
	}
	return nil
}

func (c *Client) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(c.resolve(p)); err != nil {
		return mapErr("removeall", p, err)
	}
	return nil
}

func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(c.resolve(oldPath), c.resolve(newPath)); err != nil {
		return mapErr("rename", oldPath, err)
	}
	return nil
}

func (c *Client) fileInfo(p string, info os.FileInfo) *protocol.FileInfo {
	fi := &protocol.FileInfo{
		Name:     info.Name(),
		Path:     path.Clean("/" + p),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		IsDir:    info.IsDir(),
		Metadata: map[string]string{"mtime": info.ModTime().UTC().Format(time.RFC3339Nano)},
	}
	if ino := inodeOf(info); ino != 0 {
		fi.Metadata["inode"] = fmt.Sprintf("%d", ino)
	}
	return fi
}

func mapErr(op, p string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, p, protocol.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}
