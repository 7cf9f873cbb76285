//go:build windows

package discovery

import "golang.org/x/sys/windows"

// identityOf returns the volume serial number and file index of absPath,
// following symlinks and junctions.
func identityOf(absPath string) (fileID, error) {
	p, err := windows.UTF16PtrFromString(absPath)
	if err != nil {
		return fileID{}, err
	}
	// FILE_FLAG_BACKUP_SEMANTICS is required to open a directory handle.
	h, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return fileID{}, err
	}
	defer windows.CloseHandle(h)

	var d windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &d); err != nil {
		return fileID{}, err
	}
	return fileID{
		dev: uint64(d.VolumeSerialNumber),
		ino: uint64(d.FileIndexHigh)<<32 | uint64(d.FileIndexLow),
	}, nil
}
