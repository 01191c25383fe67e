package protocol

import "context"

// ftpHandler implements Handler for FTP servers. FTP is the slowest and
// weakest protocol here: the widest move window, the smallest listing batch
// and no atomic move. RNFR/RNTO exists on most servers but gives no
// atomicity guarantee, so moves follow the same copy-verify-delete path as
// SMB.
type ftpHandler struct {
	base
}

func (h *ftpHandler) PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	return h.copyMove(ctx, fs, oldPath, newPath, isDirectory)
}
