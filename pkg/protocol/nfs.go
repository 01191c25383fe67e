package protocol

import (
	"context"
	"errors"
	"fmt"
)

// nfsHandler implements Handler for NFS mounts. Renames are atomic within a
// single mount; across mount or export boundaries the backend reports
// ErrNotSupported and the handler falls back to copy-verify-delete. Inodes
// give strong identity for files above the hash threshold.
type nfsHandler struct {
	base
}

func (h *nfsHandler) PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	err := fs.Rename(ctx, oldPath, newPath)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotSupported) {
		return h.copyMove(ctx, fs, oldPath, newPath, isDirectory)
	}
	return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
}
