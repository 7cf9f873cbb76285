//go:build !windows

package discovery

import "golang.org/x/sys/unix"

// identityOf returns the device and inode of absPath, following symlinks.
func identityOf(absPath string) (fileID, error) {
	var st unix.Stat_t
	if err := unix.Stat(absPath, &st); err != nil {
		return fileID{}, err
	}
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}
