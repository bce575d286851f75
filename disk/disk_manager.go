package disk

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"shelfdb/disk/pages"
	"shelfdb/storage"
)

// IDiskManager is the synchronous I/O boundary every other component talks through: fixed-size page reads
// and writes, page id allocation, and an append-only log file with a corresponding offset-based reader.
type IDiskManager interface {
	ReadPage(pageId storage.PageID, dst []byte) error
	WritePage(pageId storage.PageID, src []byte) error

	// AllocatePage returns a fresh page id. Ids are monotonically increasing; deallocated ids are never
	// reused.
	AllocatePage() storage.PageID

	// DeallocatePage marks a page id as no longer in use. It is a bookkeeping no-op at this layer: nothing
	// above the disk manager relies on deallocated ids being reclaimed.
	DeallocatePage(pageId storage.PageID)

	// WriteLog appends buf to the log file and must not return until it is durable.
	WriteLog(buf []byte) error

	// ReadLog reads up to len(dst) bytes starting at offset into dst, returning the number of bytes read.
	// A short read that still returns some bytes is not an error; ok is false only once offset is at or
	// past the end of the log file.
	ReadLog(dst []byte, offset int64) (n int, ok bool, err error)

	Close() error
}

// FlushInstantly controls whether every WritePage additionally calls fsync. The WAL protocol this module
// implements only promises durability for the log file (see WriteLog); leaving this false lets the page
// file ride on the OS page cache, matching the teacher's own default.
const FlushInstantly = false

type Manager struct {
	file       *os.File
	logFile    *os.File
	nextPageId atomic.Int64
	mu         sync.Mutex
}

// NewDiskManager opens (creating if necessary) the page file and its companion log file. isNew reports
// whether the page file was just created.
func NewDiskManager(path string) (*Manager, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening page file: %w", err)
	}

	lf, err := os.OpenFile(path+".wal", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening log file: %w", err)
	}

	d := &Manager{file: f, logFile: lf}

	stat, err := f.Stat()
	if err != nil {
		return nil, false, err
	}

	isNew := stat.Size() == 0
	d.nextPageId.Store(stat.Size() / int64(pages.PageSize))

	log.Printf("shelfdb: opened %s, %d existing pages\n", path, d.nextPageId.Load())
	return d, isNew, nil
}

func (d *Manager) ReadPage(pageId storage.PageID, dst []byte) error {
	if pageId < 0 {
		return fmt.Errorf("disk: read of invalid page id %d", pageId)
	}
	if len(dst) != pages.PageSize {
		return fmt.Errorf("disk: destination buffer is %d bytes, want %d", len(dst), pages.PageSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(pageId) * int64(pages.PageSize)
	n, err := d.file.ReadAt(dst, off)
	if err != nil {
		if err == io.EOF && n == 0 {
			// a page that was allocated but never written reads as all-zero.
			for i := range dst {
				dst[i] = 0
			}
			return nil
		}
		return fmt.Errorf("disk: reading page %d: %w", pageId, err)
	}
	return nil
}

func (d *Manager) WritePage(pageId storage.PageID, src []byte) error {
	if pageId < 0 {
		return fmt.Errorf("disk: write of invalid page id %d", pageId)
	}
	if len(src) != pages.PageSize {
		return fmt.Errorf("disk: source buffer is %d bytes, want %d", len(src), pages.PageSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(pageId) * int64(pages.PageSize)
	n, err := d.file.WriteAt(src, off)
	if err != nil {
		return fmt.Errorf("disk: writing page %d: %w", pageId, err)
	}
	if n != pages.PageSize {
		return errors.New("disk: short write of page")
	}

	if FlushInstantly {
		if err := fdatasync(d.file); err != nil {
			return fmt.Errorf("disk: syncing page file: %w", err)
		}
	}
	return nil
}

func (d *Manager) AllocatePage() storage.PageID {
	return storage.PageID(d.nextPageId.Add(1) - 1)
}

func (d *Manager) DeallocatePage(storage.PageID) {}

func (d *Manager) WriteLog(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.logFile.Write(buf)
	if err != nil {
		return fmt.Errorf("disk: writing log: %w", err)
	}
	if n != len(buf) {
		return errors.New("disk: short write of log")
	}

	if err := fdatasync(d.logFile); err != nil {
		return fmt.Errorf("disk: syncing log file: %w", err)
	}
	return nil
}

func (d *Manager) ReadLog(dst []byte, offset int64) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.logFile.ReadAt(dst, offset)
	if err != nil && err != io.EOF {
		return n, false, fmt.Errorf("disk: reading log at %d: %w", offset, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (d *Manager) Close() error {
	if err := d.logFile.Close(); err != nil {
		return err
	}
	return d.file.Close()
}
