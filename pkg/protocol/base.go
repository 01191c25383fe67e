package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"
)

// base carries the configuration and shared logic common to every handler.
// The per-protocol structs embed it and override only move execution.
type base struct {
	proto     Protocol
	caps      Capabilities
	hashLimit int64
}

func (b *base) Protocol() Protocol {
	return b.proto
}

func (b *base) Capabilities() Capabilities {
	return b.caps
}

func (b *base) MoveWindow() time.Duration {
	return b.caps.MoveWindow
}

func (b *base) SupportsRealTime() bool {
	return b.caps.RealTimeEvents
}

func (b *base) Identify(ctx context.Context, fs FS, storageRootID, filePath string) (*FileIdentifier, error) {
	statCtx, cancel := context.WithTimeout(ctx, b.caps.OperationTimeout)
	info, err := fs.Stat(statCtx, filePath)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("stat %s: %w", filePath, errors.Join(err, ErrUnavailable))
	}
	return b.IdentifyInfo(ctx, fs, storageRootID, info)
}

func (b *base) IdentifyInfo(ctx context.Context, fs FS, storageRootID string, info *FileInfo) (*FileIdentifier, error) {
	id := &FileIdentifier{
		StorageRootID: storageRootID,
		Protocol:      b.proto,
		Path:          info.Path,
		Size:          info.Size,
		IsDirectory:   info.IsDir,
		Metadata:      InfoMetadata(b.proto, info),
	}
	if !info.IsDir && info.Size <= b.hashLimit {
		hash, err := b.hashContent(ctx, fs, info.Path)
		if err != nil {
			// Identity degrades to size+metadata rather than dropping the
			// event. A vanished file mid-hash is normal during churn.
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled) {
				return id, fmt.Errorf("hash %s: %w", info.Path, errors.Join(err, ErrUnavailable))
			}
			return id, nil
		}
		id.ContentHash = hash
	}
	return id, nil
}

func (b *base) hashContent(ctx context.Context, fs FS, filePath string) (string, error) {
	r, err := fs.Open(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (b *base) ValidateMove(ctx context.Context, fs FS, oldPath, newPath string) error {
	ctx, cancel := context.WithTimeout(ctx, b.caps.OperationTimeout)
	defer cancel()

	dstExists, err := fs.Exists(ctx, newPath)
	if err != nil {
		return fmt.Errorf("check destination %s: %w", newPath, errors.Join(err, ErrUnavailable))
	}
	if !dstExists {
		return fmt.Errorf("destination %s missing: %w", newPath, ErrMoveValidationFailed)
	}

	srcExists, err := fs.Exists(ctx, oldPath)
	if err != nil {
		return fmt.Errorf("check source %s: %w", oldPath, errors.Join(err, ErrUnavailable))
	}
	if srcExists {
		return fmt.Errorf("source %s still present: %w", oldPath, ErrMoveValidationFailed)
	}
	return nil
}

// copyMove is the non-atomic move: copy to the destination, verify the copy,
// and only then delete the source. A failure partway removes the partial
// destination so the catalog never ends up referencing an orphaned copy.
func (b *base) copyMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error {
	var err error
	if isDirectory {
		err = b.copyTree(ctx, fs, oldPath, newPath)
	} else {
		err = b.copyFile(ctx, fs, oldPath, newPath)
	}
	if err != nil {
		b.cleanup(ctx, fs, newPath, isDirectory)
		return fmt.Errorf("copy %s to %s: %w", oldPath, newPath, err)
	}

	if err := b.verifyCopy(ctx, fs, oldPath, newPath, isDirectory); err != nil {
		b.cleanup(ctx, fs, newPath, isDirectory)
		return err
	}

	if isDirectory {
		err = fs.RemoveAll(ctx, oldPath)
	} else {
		err = fs.Remove(ctx, oldPath)
	}
	if err != nil {
		// The copy is intact; leaving both is safer than deleting it. The
		// next poll observes the leftover source as a new entry.
		return fmt.Errorf("delete source %s after copy: %w", oldPath, err)
	}
	return nil
}

func (b *base) copyFile(ctx context.Context, fs FS, src, dst string) error {
	r, err := fs.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return fs.Create(ctx, dst, r)
}

func (b *base) copyTree(ctx context.Context, fs FS, src, dst string) error {
	if err := fs.Mkdir(ctx, dst); err != nil {
		return err
	}
	entries, err := fs.List(ctx, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcChild := path.Join(src, entry.Name)
		dstChild := path.Join(dst, entry.Name)
		if entry.IsDir {
			err = b.copyTree(ctx, fs, srcChild, dstChild)
		} else {
			err = b.copyFile(ctx, fs, srcChild, dstChild)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *base) verifyCopy(ctx context.Context, fs FS, src, dst string, isDirectory bool) error {
	ctx, cancel := context.WithTimeout(ctx, b.caps.OperationTimeout)
	defer cancel()

	dstInfo, err := fs.Stat(ctx, dst)
	if err != nil {
		return fmt.Errorf("verify %s: %w", dst, errors.Join(err, ErrMoveValidationFailed))
	}
	if isDirectory {
		if !dstInfo.IsDir {
			return fmt.Errorf("verify %s: not a directory: %w", dst, ErrMoveValidationFailed)
		}
		return nil
	}
	srcInfo, err := fs.Stat(ctx, src)
	if err != nil {
		return fmt.Errorf("verify source %s: %w", src, errors.Join(err, ErrMoveValidationFailed))
	}
	if dstInfo.Size != srcInfo.Size {
		return fmt.Errorf("verify %s: size %d != source %d: %w",
			dst, dstInfo.Size, srcInfo.Size, ErrMoveValidationFailed)
	}
	return nil
}

// cleanup removes a partial destination copy, ignoring errors: the verify
// failure that got us here is what the caller reports.
func (b *base) cleanup(ctx context.Context, fs FS, dst string, isDirectory bool) {
	if isDirectory {
		_ = fs.RemoveAll(ctx, dst)
		return
	}
	_ = fs.Remove(ctx, dst)
}
