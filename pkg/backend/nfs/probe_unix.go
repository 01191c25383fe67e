//go:build unix

package nfs

import (
	"context"
	"errors"
	"syscall"
)

// probeMount runs statfs in a goroutine so a hung NFS server turns into a
// context error instead of an indefinitely blocked caller.
func probeMount(ctx context.Context, mount string) error {
	done := make(chan error, 1)
	go func() {
		var st syscall.Statfs_t
		done <- syscall.Statfs(mount, &st)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
