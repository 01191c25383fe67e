// Package nfs provides a backend Client for NFS exports reachable through a
// kernel mount point.
//
// The client does not speak the NFS wire protocol itself. It drives the
// kernel mount with regular file operations and layers on the NFS-specific
// behavior the engine needs: a statfs liveness probe on Connect, inode
// identity metadata, and ErrNotSupported for renames that cross a mount
// boundary so callers fall back to copy-and-delete.
package nfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/gmicheli/driftwatch/pkg/backend/local"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Client is an NFS backend rooted at a kernel mount point.
type Client struct {
	*local.Client
	mount string
}

// New returns a client rooted at the given mount point.
func New(mount string) *Client {
	return &Client{Client: local.New(mount), mount: mount}
}

func (c *Client) Protocol() protocol.Protocol { return protocol.NFS }

// Connect probes the mount with statfs. A plain stat can hang forever on a
// dead NFS server answering from the page cache; statfs forces a round trip.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := probeMount(ctx, c.mount); err != nil {
		return fmt.Errorf("nfs backend %s: %w", c.mount, errors.Join(protocol.ErrUnavailable, err))
	}
	return nil
}

// Rename renames within the mount. Renames that cross a filesystem boundary
// return ErrNotSupported and the caller copies instead.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	err := c.Client.Rename(ctx, oldPath, newPath)
	if err != nil && isCrossDevice(err) {
		return fmt.Errorf("rename %s: %w", oldPath, protocol.ErrNotSupported)
	}
	return err
}
