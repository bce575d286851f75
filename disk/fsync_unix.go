//go:build unix

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes a file's data (but not necessarily its metadata) to stable storage. It is the
// precise durability primitive WriteLog relies on; on non-unix platforms this falls back to file.Sync.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
