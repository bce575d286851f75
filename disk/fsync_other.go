//go:build !unix

package disk

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
