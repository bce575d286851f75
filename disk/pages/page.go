package pages

import (
	"sync"

	"shelfdb/storage"
)

// PageSize is the fixed size, in bytes, of every page in the page file and every frame in the buffer pool.
const PageSize = 4096

// RawPage is the in-memory representation of one page. It carries the metadata the buffer pool needs
// (pin count, dirty bit, page LSN, a latch) directly alongside the page's bytes, following the teacher's
// choice to fold frame bookkeeping into the page object rather than keep it in a separate struct.
type RawPage struct {
	pageId   storage.PageID
	pageLSN  LSN
	isDirty  bool
	pinCount int
	rwLatch  sync.RWMutex
	data     [PageSize]byte
}

func NewRawPage(pageId storage.PageID) *RawPage {
	return &RawPage{pageId: pageId}
}

func (p *RawPage) GetPageId() storage.PageID {
	return p.pageId
}

func (p *RawPage) SetPageId(pageId storage.PageID) {
	p.pageId = pageId
}

func (p *RawPage) GetData() []byte {
	return p.data[:]
}

func (p *RawPage) GetPageLSN() LSN {
	return p.pageLSN
}

func (p *RawPage) SetPageLSN(lsn LSN) {
	p.pageLSN = lsn
}

func (p *RawPage) GetPinCount() int {
	return p.pinCount
}

func (p *RawPage) IncrPinCount() {
	p.pinCount++
}

func (p *RawPage) DecrPinCount() {
	p.pinCount--
}

func (p *RawPage) IsDirty() bool {
	return p.isDirty
}

func (p *RawPage) SetDirty() {
	p.isDirty = true
}

func (p *RawPage) SetClean() {
	p.isDirty = false
}

// Reset clears the page for reuse by a different page id. It does not touch the latch: the buffer pool only
// calls this under its own lock, on a frame whose pin count is zero.
func (p *RawPage) Reset(pageId storage.PageID) {
	p.pageId = pageId
	p.pageLSN = ZeroLSN
	p.isDirty = false
	p.pinCount = 0
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *RawPage) WLatch() {
	p.rwLatch.Lock()
}

func (p *RawPage) WUnlatch() {
	p.rwLatch.Unlock()
}

func (p *RawPage) RLatch() {
	p.rwLatch.RLock()
}

func (p *RawPage) RUnlatch() {
	p.rwLatch.RUnlock()
}
