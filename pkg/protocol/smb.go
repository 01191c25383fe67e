package protocol

import "context"

// smbHandler implements Handler for SMB shares. SMB offers no atomic move
// across the observed tree, so every move is copy-verify-delete. Identity
// for files above the hash threshold is size plus mtime.
type smbHandler struct {
	base
}

func (h *smbHandler) PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	return h.copyMove(ctx, fs, oldPath, newPath, isDirectory)
}
