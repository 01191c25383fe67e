// Package ftp provides a backend Client for FTP servers using jlaffaye/ftp.
//
// An FTP control connection carries one command at a time, so the client
// serializes all operations behind a mutex. Open holds the lock until the
// returned reader is closed because the data transfer occupies the
// connection. Identity metadata for FTP is mtime only.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Config holds the connection settings for one FTP storage root.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Client is an FTP backend.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *ftp.ServerConn
}

// New returns an unconnected client. Call Connect before use.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) Protocol() protocol.Protocol { return protocol.FTP }

// Connect dials and logs in. An existing connection is dropped first so the
// resilience probe can reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Quit()
		c.conn = nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.DialTimeout),
	)
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", addr, errors.Join(protocol.ErrUnavailable, err))
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		conn.Quit()
		return fmt.Errorf("ftp login %s: %w", addr, errors.Join(protocol.ErrUnavailable, err))
	}
	c.conn = conn
	return nil
}

// Disconnect sends QUIT. Safe to call when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

func (c *Client) connLocked() (*ftp.ServerConn, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("ftp %s: not connected: %w", c.cfg.Host, protocol.ErrUnavailable)
	}
	return c.conn, nil
}

func ftpPath(p string) string {
	return path.Clean("/" + p)
}

func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statLocked(ctx, p)
}

func (c *Client) statLocked(ctx context.Context, p string) (*protocol.FileInfo, error) {
	conn, err := c.connLocked()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = ftpPath(p)
	entry, err := conn.GetEntry(p)
	if err == nil {
		return fileInfo(p, entry), nil
	}
	if isNotFound(err) {
		return nil, fmt.Errorf("stat %s: %w", p, protocol.ErrNotFound)
	}
	// MLST not supported by this server. Scan the parent listing instead.
	if p == "/" {
		return &protocol.FileInfo{Name: "/", Path: "/", IsDir: true}, nil
	}
	entries, lerr := conn.List(path.Dir(p))
	if lerr != nil {
		return nil, mapErr("stat", p, lerr)
	}
	for _, e := range entries {
		if e.Name == path.Base(p) {
			return fileInfo(p, e), nil
		}
	}
	return nil, fmt.Errorf("stat %s: %w", p, protocol.ErrNotFound)
}

func (c *Client) List(ctx context.Context, p string) ([]*protocol.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = ftpPath(p)
	entries, err := conn.List(p)
	if err != nil {
		return nil, mapErr("list", p, err)
	}
	out := make([]*protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fileInfo(path.Join(p, e.Name), e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.statLocked(ctx, p)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// lockedReader keeps the client locked for the lifetime of a download. The
// data connection occupies the control connection until fully drained.
type lockedReader struct {
	io.ReadCloser
	mu   *sync.Mutex
	once sync.Once
}

func (r *lockedReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.mu.Unlock)
	return err
}

func (c *Client) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c.mu.Lock()
	conn, err := c.connLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	resp, err := conn.Retr(ftpPath(p))
	if err != nil {
		c.mu.Unlock()
		return nil, mapErr("open", p, err)
	}
	return &lockedReader{ReadCloser: resp, mu: &c.mu}, nil
}

func (c *Client) Create(ctx context.Context, p string, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p = ftpPath(p)
	c.mkdirAllLocked(conn, path.Dir(p))
	if err := conn.Stor(p, r); err != nil {
		return mapErr("create", p, err)
	}
	return nil
}

func (c *Client) Mkdir(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mkdirAllLocked(conn, ftpPath(p))
	return nil
}

// mkdirAllLocked creates each path segment, ignoring already-exists errors.
// FTP has no MKD -p and no reliable way to distinguish "exists" from other
// 550 replies across servers.
func (c *Client) mkdirAllLocked(conn *ftp.ServerConn, p string) {
	if p == "/" || p == "" {
		return
	}
	segments := []string{}
	for cur := p; cur != "/"; cur = path.Dir(cur) {
		segments = append([]string{cur}, segments...)
	}
	for _, seg := range segments {
		conn.MakeDir(seg)
	}
}

func (c *Client) Remove(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conn.Delete(ftpPath(p)); err != nil {
		return mapErr("remove", p, err)
	}
	return nil
}

func (c *Client) RemoveAll(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conn.RemoveDirRecur(ftpPath(p)); err != nil {
		return mapErr("removeall", p, err)
	}
	return nil
}

func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conn.Rename(ftpPath(oldPath), ftpPath(newPath)); err != nil {
		return mapErr("rename", oldPath, err)
	}
	return nil
}

func fileInfo(p string, e *ftp.Entry) *protocol.FileInfo {
	return &protocol.FileInfo{
		Name:     e.Name,
		Path:     p,
		Size:     int64(e.Size),
		ModTime:  e.Time,
		IsDir:    e.Type == ftp.EntryTypeFolder,
		Metadata: map[string]string{"mtime": e.Time.UTC().Format(time.RFC3339Nano)},
	}
}

func isNotFound(err error) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable
}

func mapErr(op, p string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, protocol.ErrNotFound)
	}
	var nerr net.Error
	if errors.Is(err, net.ErrClosed) || errors.As(err, &nerr) {
		return fmt.Errorf("%s %s: %w", op, p, errors.Join(protocol.ErrUnavailable, err))
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}
