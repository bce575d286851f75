package buffer

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfdb/disk/pages"
	"shelfdb/disk/wal"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// memDiskManager is an in-memory disk.IDiskManager double: no file, just pages and a log kept in maps/a
// byte slice, the same way the teacher's btree tests keep a MemPager instead of touching a real file.
type memDiskManager struct {
	mu       sync.Mutex
	pages    map[storage.PageID][]byte
	log      []byte
	nextPage storage.PageID
}

func newMemDiskManager() *memDiskManager {
	return &memDiskManager{pages: map[storage.PageID][]byte{}}
}

func (m *memDiskManager) ReadPage(pageId storage.PageID, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.pages[pageId]; ok {
		copy(dst, data)
	}
	return nil
}

func (m *memDiskManager) WritePage(pageId storage.PageID, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(src))
	copy(buf, src)
	m.pages[pageId] = buf
	return nil
}

func (m *memDiskManager) AllocatePage() storage.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPage
	m.nextPage++
	return id
}

func (m *memDiskManager) DeallocatePage(storage.PageID) {}

func (m *memDiskManager) WriteLog(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, buf...)
	return nil
}

func (m *memDiskManager) ReadLog(dst []byte, offset int64) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= int64(len(m.log)) {
		return 0, false, nil
	}
	n := copy(dst, m.log[offset:])
	return n, true, nil
}

func (m *memDiskManager) Close() error { return nil }

func newTestPool(t *testing.T, poolSize int) (*BufferPool, *memDiskManager) {
	t.Helper()
	dm := newMemDiskManager()
	lm := wal.NewLogManager(&bytes.Buffer{})
	return NewBufferPool(dm, lm, poolSize), dm
}

func TestBufferPool_NewPage_Then_FetchPage_Returns_Same_Content(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pageId := p.GetPageId()
	copy(p.GetData(), []byte("hello"))
	require.True(t, pool.UnpinPage(pageId, true))

	fetched, err := pool.FetchPage(pageId)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(fetched.GetData()[:5]))
	pool.UnpinPage(pageId, false)
}

func TestBufferPool_NewPage_Exhausts_Free_Frames(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	p1, err := pool.NewPage()
	require.NoError(t, err)
	p2, err := pool.NewPage()
	require.NoError(t, err)

	_, err = pool.NewPage()
	assert.ErrorIs(t, err, ErrNoFreeFrames)

	pool.UnpinPage(p1.GetPageId(), false)
	pool.UnpinPage(p2.GetPageId(), false)
}

func TestBufferPool_Evicts_Unpinned_Frame_When_Pool_Is_Full(t *testing.T) {
	pool, _ := newTestPool(t, 1)

	p1, err := pool.NewPage()
	require.NoError(t, err)
	id1 := p1.GetPageId()
	pool.UnpinPage(id1, false)

	p2, err := pool.NewPage()
	require.NoError(t, err)
	assert.NotEqual(t, id1, p2.GetPageId())
}

func TestBufferPool_UnpinPage_Unknown_Page_Returns_False(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	assert.False(t, pool.UnpinPage(storage.PageID(99), false))
}

func TestBufferPool_UnpinPage_Already_Zero_Returns_False(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	p, err := pool.NewPage()
	require.NoError(t, err)

	assert.True(t, pool.UnpinPage(p.GetPageId(), false))
	assert.False(t, pool.UnpinPage(p.GetPageId(), false))
}

func TestBufferPool_DeletePage_Refuses_While_Pinned(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	p, err := pool.NewPage()
	require.NoError(t, err)

	assert.False(t, pool.DeletePage(p.GetPageId()))
	pool.UnpinPage(p.GetPageId(), false)
	assert.True(t, pool.DeletePage(p.GetPageId()))
}

func TestBufferPool_FlushPage_Writes_Dirty_Page_Through(t *testing.T) {
	pool, dm := newTestPool(t, 2)
	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()
	copy(p.GetData(), []byte("durable"))
	pool.UnpinPage(id, true)

	assert.True(t, pool.FlushPage(id))
	assert.Equal(t, "durable", string(dm.pages[id][:7]))
}

func TestBufferPool_FlushPage_Invalid_Id_Fails(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	assert.False(t, pool.FlushPage(storage.InvalidPageID))
}

// TestBufferPool_WriteBack_Force_Flushes_The_Log_Before_Writing_A_Page exercises WAL-before-write: a dirty
// page whose LSN is ahead of the log manager's flushed LSN must force a log flush before the page itself
// reaches disk, so a crash right after the page write never leaves a page durable without its log record.
func TestBufferPool_WriteBack_Force_Flushes_The_Log_Before_Writing_A_Page(t *testing.T) {
	buf := &bytes.Buffer{}
	lm := wal.NewLogManager(buf)
	dm := newMemDiskManager()
	pool := NewBufferPool(dm, lm, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()

	lsn := lm.AppendLog(wal.NewInsertLogRecord(transaction.TxnID(1), storage.RID{PageID: id, SlotNum: 0}, storage.NewTuple([]byte("x"))))
	require.Greater(t, lsn, pages.LSN(0))
	p.SetPageLSN(lsn)

	require.Equal(t, pages.LSN(0), lm.GetFlushedLSN(), "nothing should be flushed yet")
	require.True(t, pool.UnpinPage(id, true))

	assert.True(t, pool.FlushPage(id))
	assert.GreaterOrEqual(t, lm.GetFlushedLSN(), lsn, "writing the page back must force the log durable first")
	assert.NotZero(t, buf.Len(), "the log record must actually have reached the log's backing writer")
}
