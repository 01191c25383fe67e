package protocol

import "context"

// webdavHandler implements Handler for WebDAV servers. The MOVE verb is not
// atomic and some servers reject it for collections, so moves use
// copy-verify-delete like the other non-atomic protocols. ETags give
// identity for files above the hash threshold.
type webdavHandler struct {
	base
}

func (h *webdavHandler) PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	return h.copyMove(ctx, fs, oldPath, newPath, isDirectory)
}
