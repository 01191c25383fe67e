// Package smb provides a backend Client for SMB shares using
// hirochachacha/go-smb2.
//
// The client mounts one share per storage root. Identity metadata for SMB is
// mtime only: SMB exposes no stable object id the protocol layer can use, so
// files above the hash threshold fall back to size plus modification time.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Config holds the connection settings for one SMB storage root.
type Config struct {
	Host     string
	Port     int
	Share    string
	Username string
	Password string
	Domain   string
}

// Client is an SMB backend for a single share.
type Client struct {
	cfg Config

	mu      sync.RWMutex
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

// New returns an unconnected client. Call Connect before use.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 445
	}
	return &Client{cfg: cfg}
}

func (c *Client) Protocol() protocol.Protocol { return protocol.SMB }

// Connect dials the server, authenticates and mounts the share. An existing
// connection is torn down first so the resilience probe can reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smb dial %s: %w", addr, errors.Join(protocol.ErrUnavailable, err))
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.cfg.Username,
			Password: c.cfg.Password,
			Domain:   c.cfg.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smb session %s: %w", addr, errors.Join(protocol.ErrUnavailable, err))
	}

	share, err := session.Mount(c.cfg.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return fmt.Errorf("smb mount %s: %w", c.cfg.Share, errors.Join(protocol.ErrUnavailable, err))
	}

	c.conn = conn
	c.session = session
	c.share = share
	return nil
}

// Disconnect unmounts the share and closes the session. Safe to call when
// not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.share != nil {
		c.share.Umount()
		c.share = nil
	}
	if c.session != nil {
		c.session.Logoff()
		c.session = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) shareConn() (*smb2.Share, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.share == nil {
		return nil, fmt.Errorf("smb %s: not connected: %w", c.cfg.Share, protocol.ErrUnavailable)
	}
	return c.share, nil
}

// go-smb2 wants share-relative backslash paths.
func smbPath(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		p = "."
	}
	return strings.ReplaceAll(p, "/", `\`)
}

func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	share, err := c.shareConn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := share.Stat(smbPath(p))
	if err != nil {
		return nil, mapErr("stat", p, err)
	}
	return fileInfo(p, info), nil
}

func (c *Client) List(ctx context.Context, p string) ([]*protocol.FileInfo, error) {
	share, err := c.shareConn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := share.ReadDir(smbPath(p))
	if err != nil {
		return nil, mapErr("list", p, err)
	}
	out := make([]*protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, fileInfo(path.Join("/", path.Clean("/"+p), e.Name()), e))
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
	share, err := c.shareConn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := share.Open(smbPath(p))
	if err != nil {
		return nil, mapErr("open", p, err)
	}
	return f, nil
}

func (c *Client) Create(ctx context.Context, p string, r io.Reader) error {
	share, err := c.shareConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := path.Dir(path.Clean("/" + p)); dir != "/" {
		if err := share.MkdirAll(smbPath(dir), 0o755); err != nil {
			return mapErr("create", p, err)
		}
	}
	f, err := share.Create(smbPath(p))
	if err != nil {
		return mapErr("create", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		share.Remove(smbPath(p))
		return fmt.Errorf("create %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	return nil
}

func (c *Client) Mkdir(ctx context.Context, p string) error {
	share, err := c.shareConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := share.MkdirAll(smbPath(p), 0o755); err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, p string) error {
	share, err := c.shareConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := share.Remove(smbPath(p)); err != nil {
		return mapErr("remove", p, err)
	}
	return nil
}

func (c *Client) RemoveAll(ctx context.Context, p string) error {
	share, err := c.shareConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := share.RemoveAll(smbPath(p)); err != nil {
		return mapErr("removeall", p, err)
	}
	return nil
}

func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	share, err := c.shareConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := share.Rename(smbPath(oldPath), smbPath(newPath)); err != nil {
		return mapErr("rename", oldPath, err)
	}
	return nil
}

func fileInfo(p string, info os.FileInfo) *protocol.FileInfo {
	return &protocol.FileInfo{
		Name:     info.Name(),
		Path:     path.Clean("/" + p),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		IsDir:    info.IsDir(),
		Metadata: map[string]string{"mtime": info.ModTime().UTC().Format(time.RFC3339Nano)},
	}
}

func mapErr(op, p string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%s %s: %w", op, p, protocol.ErrNotFound)
	}
	var nerr net.Error
	if errors.Is(err, net.ErrClosed) || errors.As(err, &nerr) {
		return fmt.Errorf("%s %s: %w", op, p, errors.Join(protocol.ErrUnavailable, err))
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}
