package protocol

import (
	"context"
	"fmt"
)

// localHandler implements Handler for local filesystems. Renames are atomic
// and change events arrive in real time, so detected renames normally reach
// dispatch already done on disk.
type localHandler struct {
	base
}

func (h *localHandler) PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	if err := fs.Rename(ctx, oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}
