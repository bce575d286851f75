package buffer

import (
	"errors"
	"fmt"
	"sync"

	"shelfdb/disk"
	"shelfdb/disk/pages"
	"shelfdb/disk/wal"
	"shelfdb/storage"
)

var ErrNoFreeFrames = errors.New("buffer: no free frames available")

// Pool is the buffer-pool manager's public contract: pin/unpin pages, flush them, and create or delete
// pages, all atomically with respect to each other.
type Pool interface {
	FetchPage(pageId storage.PageID) (*pages.RawPage, error)
	NewPage() (*pages.RawPage, error)
	UnpinPage(pageId storage.PageID, isDirty bool) bool
	FlushPage(pageId storage.PageID) bool
	FlushAllPages()
	DeletePage(pageId storage.PageID) bool
}

var _ Pool = &BufferPool{}

// frame is one in-memory slot. It wraps a RawPage the way the teacher's buffer pool does; the buffer pool
// is the only thing that ever mutates a frame's page id or pin count.
type frame struct {
	page *pages.RawPage
}

// BufferPool is a single coarse-grained lock around the page table, free list, replacer and every frame.
// Per the concurrency model this core implements, the lock's critical section includes any disk I/O a
// call initiates (read/write of a page, force-flush of the log) rather than releasing it around I/O for
// finer-grained concurrency: every public method here runs start to finish under b.lock.
type BufferPool struct {
	poolSize int
	frames   []*frame
	pageMap  map[storage.PageID]int // page id -> frame index
	freeList []int                  // indices of frames holding no page

	replacer    Replacer
	diskManager disk.IDiskManager
	logManager  wal.LogManager

	lock sync.Mutex
}

func NewBufferPool(diskManager disk.IDiskManager, logManager wal.LogManager, poolSize int) *BufferPool {
	freeList := make([]int, poolSize)
	frames := make([]*frame, poolSize)
	for i := 0; i < poolSize; i++ {
		freeList[i] = i
		frames[i] = &frame{page: pages.NewRawPage(storage.InvalidPageID)}
	}

	return &BufferPool{
		poolSize:    poolSize,
		frames:      frames,
		pageMap:     make(map[storage.PageID]int, poolSize),
		freeList:    freeList,
		replacer:    NewClockReplacer(poolSize),
		diskManager: diskManager,
		logManager:  logManager,
	}
}

// FetchPage pins and returns the page, reading it from disk if it is not already resident. It returns
// ErrNoFreeFrames when every frame is pinned.
func (b *BufferPool) FetchPage(pageId storage.PageID) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		b.pinLocked(frameIdx)
		return b.frames[frameIdx].page, nil
	}

	frameIdx, err := b.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := b.frames[frameIdx]
	f.page.Reset(pageId)
	if err := b.diskManager.ReadPage(pageId, f.page.GetData()); err != nil {
		f.page.Reset(storage.InvalidPageID)
		b.freeList = append(b.freeList, frameIdx)
		return nil, fmt.Errorf("buffer: reading page %d: %w", pageId, err)
	}

	b.pageMap[pageId] = frameIdx
	b.pinLocked(frameIdx)

	// This is the frame loaded by the fallback (replacer-victim) path: unlike the source this always
	// returns the frame it just populated rather than falling through to a nil return.
	return f.page, nil
}

// NewPage allocates a fresh page id, installs a zeroed page pinned in a frame, and returns it. It returns
// ErrNoFreeFrames when every frame is pinned.
func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, err := b.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	pageId := b.diskManager.AllocatePage()
	f := b.frames[frameIdx]
	f.page.Reset(pageId)
	b.pageMap[pageId] = frameIdx
	b.pinLocked(frameIdx)
	f.page.SetDirty()
	return f.page, nil
}

// UnpinPage decrements the page's pin count. It returns false, without mutating anything, if the page is
// not resident or is already unpinned.
func (b *BufferPool) UnpinPage(pageId storage.PageID, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return false
	}

	f := b.frames[frameIdx]
	if f.page.GetPinCount() <= 0 {
		return false
	}

	if isDirty {
		f.page.SetDirty()
	}

	f.page.DecrPinCount()
	if f.page.GetPinCount() == 0 {
		b.replacer.Unpin(frameIdx)
	}
	return true
}

// FlushPage writes a resident, dirty page through to disk regardless of its pin count. It returns false
// for a page that is not resident. INVALID_PAGE_ID always fails.
func (b *BufferPool) FlushPage(pageId storage.PageID) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.flushPageLocked(pageId)
}

func (b *BufferPool) flushPageLocked(pageId storage.PageID) bool {
	if pageId == storage.InvalidPageID {
		return false
	}

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return false
	}

	p := b.frames[frameIdx].page
	if !p.IsDirty() {
		return true
	}

	if err := b.writeBackLocked(p); err != nil {
		return false
	}
	return true
}

// FlushAllPages flushes every dirty resident page.
func (b *BufferPool) FlushAllPages() {
	b.lock.Lock()
	defer b.lock.Unlock()

	for id := range b.pageMap {
		b.flushPageLocked(id)
	}
}

// DeletePage removes a page from the pool entirely. A page id that is not resident is considered already
// deleted and returns true. A resident page with a nonzero pin count cannot be deleted and returns false.
func (b *BufferPool) DeletePage(pageId storage.PageID) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return true
	}

	f := b.frames[frameIdx]
	if f.page.GetPinCount() != 0 {
		return false
	}

	b.replacer.Pin(frameIdx)
	delete(b.pageMap, pageId)
	f.page.Reset(storage.InvalidPageID)
	b.freeList = append(b.freeList, frameIdx)

	b.diskManager.DeallocatePage(pageId)
	return true
}

// pinLocked increments the page's pin count and removes its frame from replacer candidacy. Caller must
// hold b.lock.
func (b *BufferPool) pinLocked(frameIdx int) {
	b.frames[frameIdx].page.IncrPinCount()
	b.replacer.Pin(frameIdx)
}

// acquireFrameLocked returns a frame ready to host a new page: either one from the free list, or one
// evicted via the replacer, in which case a dirty victim is written back (WAL-before-write enforced by
// writeBackLocked) before its frame is handed back for reuse. Caller must hold b.lock.
func (b *BufferPool) acquireFrameLocked() (int, error) {
	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return idx, nil
	}

	victimIdx, ok := b.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrames
	}

	victimFrame := b.frames[victimIdx]
	if victimFrame.page.GetPinCount() != 0 {
		panic(fmt.Sprintf("buffer: replacer chose a pinned frame, pin count %d", victimFrame.page.GetPinCount()))
	}

	if victimFrame.page.IsDirty() {
		if err := b.writeBackLocked(victimFrame.page); err != nil {
			// hand the frame back to the replacer as an eviction candidate; the caller still has no frame.
			b.replacer.Unpin(victimIdx)
			return 0, fmt.Errorf("buffer: writing back victim page %d: %w", victimFrame.page.GetPageId(), err)
		}
	}

	delete(b.pageMap, victimFrame.page.GetPageId())
	return victimIdx, nil
}

// writeBackLocked enforces WAL-before-write: if the page's LSN has not yet been made durable, the log is
// force-flushed before the page itself is written. Caller must hold b.lock.
func (b *BufferPool) writeBackLocked(p *pages.RawPage) error {
	if p.GetPageLSN() > b.logManager.GetFlushedLSN() {
		if err := b.logManager.Flush(); err != nil {
			return fmt.Errorf("force-flushing log before write-back: %w", err)
		}
	}

	if err := b.diskManager.WritePage(p.GetPageId(), p.GetData()); err != nil {
		return err
	}
	p.SetClean()
	return nil
}
