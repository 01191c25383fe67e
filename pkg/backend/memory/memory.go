// Package memory provides an in-memory backend Client used by tests and by
// the offline reconciliation snapshot logic.
//
// The client models a flat path-to-entry map with directory semantics on
// top. It can simulate an unreachable backend, which is how circuit breaker
// and reconciliation behavior is exercised without a network.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

type entry struct {
	isDir   bool
	data    []byte
	size    int64 // overrides len(data) when positive, for sparse test files
	modTime time.Time
	inode   uint64
	meta    map[string]string
}

func (e *entry) length() int64 {
	if e.size > 0 {
		return e.size
	}
	return int64(len(e.data))
}

// Client is an in-memory backend. The zero value is not usable; construct
// with New.
type Client struct {
	mu      sync.RWMutex
	proto   protocol.Protocol
	entries map[string]*entry
	offline bool
	nextIno uint64
	clock   func() time.Time
}

// New returns an empty in-memory client that reports the given protocol.
// The root directory "/" always exists.
func New(proto protocol.Protocol) *Client {
	c := &Client{
		proto:   proto,
		entries: make(map[string]*entry),
		nextIno: 1,
		clock:   time.Now,
	}
	c.entries["/"] = &entry{isDir: true, modTime: c.clock()}
	return c
}

// SetClock overrides the time source for deterministic mtimes in tests.
func (c *Client) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// SetOffline toggles simulated unreachability. While offline every
// operation fails with protocol.ErrUnavailable.
func (c *Client) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
}

// WriteFile creates or replaces a file, creating parent directories. The
// file keeps its inode across Rename, as a real filesystem would.
func (c *Client) WriteFile(p string, data []byte, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.mkdirAllLocked(path.Dir(p))
	ino := c.nextIno
	c.nextIno++
	if existing, ok := c.entries[p]; ok {
		ino = existing.inode
	}
	c.entries[p] = &entry{
		data:    append([]byte(nil), data...),
		modTime: modTime,
		inode:   ino,
	}
}

// WriteSparse creates a file that reports the given size without holding
// content, for exercising the above-hash-threshold identity paths.
func (c *Client) WriteSparse(p string, size int64, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.mkdirAllLocked(path.Dir(p))
	ino := c.nextIno
	c.nextIno++
	if existing, ok := c.entries[p]; ok {
		ino = existing.inode
	}
	c.entries[p] = &entry{size: size, modTime: modTime, inode: ino}
}

// SetMetadata attaches a protocol metadata key (etag, inode override) to an
// existing path.
func (c *Client) SetMetadata(p, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[clean(p)]
	if !ok {
		return
	}
	if e.meta == nil {
		e.meta = make(map[string]string)
	}
	e.meta[key] = value
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.offline {
		return fmt.Errorf("connect: %w", protocol.ErrUnavailable)
	}
	return nil
}

func (c *Client) Disconnect() error {
	return nil
}

func (c *Client) Protocol() protocol.Protocol {
	return c.proto
}

func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	p = clean(p)
	e, ok := c.entries[p]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", p, protocol.ErrNotFound)
	}
	return c.infoLocked(p, e), nil
}

func (c *Client) List(ctx context.Context, dir string) ([]*protocol.FileInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	dir = clean(dir)
	e, ok := c.entries[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, protocol.ErrNotFound)
	}
	if !e.isDir {
		return nil, fmt.Errorf("list %s: not a directory", dir)
	}
	var out []*protocol.FileInfo
	for p, child := range c.entries {
		if p != dir && path.Dir(p) == dir {
			out = append(out, c.infoLocked(p, child))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(ctx); err != nil {
		return false, err
	}
	_, ok := c.entries[clean(p)]
	return ok, nil
}

func (c *Client) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	p = clean(p)
	e, ok := c.entries[p]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, protocol.ErrNotFound)
	}
	if e.isDir {
		return nil, fmt.Errorf("open %s: is a directory", p)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

func (c *Client) Create(ctx context.Context, p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	c.mkdirAllLocked(path.Dir(p))
	ino := c.nextIno
	c.nextIno++
	c.entries[p] = &entry{data: data, modTime: c.clock(), inode: ino}
	return nil
}

func (c *Client) Mkdir(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mkdirAllLocked(clean(p))
	return nil
}

func (c *Client) Remove(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	e, ok := c.entries[p]
	if !ok {
		return fmt.Errorf("remove %s: %w", p, protocol.ErrNotFound)
	}
	if e.isDir {
		return fmt.Errorf("remove %s: is a directory", p)
	}
	delete(c.entries, p)
	return nil
}

func (c *Client) RemoveAll(ctx context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	for existing := range c.entries {
		if existing == p || strings.HasPrefix(existing, p+"/") {
			delete(c.entries, existing)
		}
	}
	return nil
}

func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return err
	}
	oldPath, newPath = clean(oldPath), clean(newPath)
	e, ok := c.entries[oldPath]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, protocol.ErrNotFound)
	}
	c.mkdirAllLocked(path.Dir(newPath))
	if e.isDir {
		moved := make(map[string]*entry)
		for p, child := range c.entries {
			if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
				moved[newPath+strings.TrimPrefix(p, oldPath)] = child
				delete(c.entries, p)
			}
		}
		for p, child := range moved {
			c.entries[p] = child
		}
		return nil
	}
	delete(c.entries, oldPath)
	c.entries[newPath] = e
	return nil
}

func (c *Client) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.offline {
		return fmt.Errorf("backend offline: %w", protocol.ErrUnavailable)
	}
	return nil
}

func (c *Client) infoLocked(p string, e *entry) *protocol.FileInfo {
	info := &protocol.FileInfo{
		Name:    path.Base(p),
		Path:    p,
		Size:    e.length(),
		ModTime: e.modTime,
		IsDir:   e.isDir,
	}
	md := make(map[string]string, len(e.meta)+1)
	if !e.isDir {
		md["inode"] = strconv.FormatUint(e.inode, 10)
	}
	for k, v := range e.meta {
		md[k] = v
	}
	info.Metadata = md
	return info
}

func (c *Client) mkdirAllLocked(dir string) {
	for d := clean(dir); ; d = path.Dir(d) {
		if e, ok := c.entries[d]; ok && e.isDir {
			break
		}
		c.entries[d] = &entry{isDir: true, modTime: c.clock()}
		if d == "/" {
			break
		}
	}
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}
