package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfdb/buffer"
	"shelfdb/disk/wal"
	"shelfdb/storage"
)

// memDiskManager is a disk.IDiskManager double kept in memory, the same fake shape used across this
// module's other package tests instead of touching a real file.
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

func newTestManager(t *testing.T) (*TxnManagerImpl, buffer.Pool) {
	t.Helper()
	dm := newMemDiskManager()
	lm := wal.NewLogManager(logWriter{dm})
	lm.RunFlusher()
	t.Cleanup(func() { lm.StopFlusher() })

	pool := buffer.NewBufferPool(dm, lm, 8)
	return NewTxnManager(pool, lm), pool
}

type logWriter struct{ d *memDiskManager }

func (w logWriter) Write(p []byte) (int, error) {
	if err := w.d.WriteLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func TestTxnManager_Begin_Insert_Commit_Persists_The_Mutation(t *testing.T) {
	tm, pool := newTestManager(t)
	txn := tm.Begin()

	pageId, err := tm.NewPage(txn, storage.InvalidPageID)
	require.NoError(t, err)

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	tuple := storage.NewTuple([]byte("committed row"))
	require.NoError(t, tm.Insert(txn, rid, tuple))
	require.NoError(t, tm.Commit(txn))

	p, err := pool.FetchPage(pageId)
	require.NoError(t, err)
	stored, ok := storage.ReadSlot(p.GetData(), 0)
	require.True(t, ok)
	assert.Equal(t, "committed row", string(stored.Data))
	pool.UnpinPage(pageId, false)

	assert.Empty(t, tm.ActiveTransactions())
}

func TestTxnManager_Begin_Insert_Abort_Reverses_The_Mutation(t *testing.T) {
	tm, pool := newTestManager(t)
	txn := tm.Begin()

	pageId, err := tm.NewPage(txn, storage.InvalidPageID)
	require.NoError(t, err)

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	tuple := storage.NewTuple([]byte("aborted row"))
	require.NoError(t, tm.Insert(txn, rid, tuple))

	require.NoError(t, tm.Abort(txn))

	p, err := pool.FetchPage(pageId)
	require.NoError(t, err)
	_, ok := storage.ReadSlot(p.GetData(), 0)
	assert.False(t, ok, "abort should have undone the insert")
	pool.UnpinPage(pageId, false)

	assert.Empty(t, tm.ActiveTransactions())
}

func TestTxnManager_Commit_Unknown_Transaction_Fails(t *testing.T) {
	tm, _ := newTestManager(t)
	ghost := tm.Begin()
	require.NoError(t, tm.Commit(ghost))

	assert.Error(t, tm.Commit(ghost))
}

func TestTxnManager_ActiveTransactions_Tracks_Begun_Not_Yet_Finished(t *testing.T) {
	tm, _ := newTestManager(t)
	txn := tm.Begin()

	active := tm.ActiveTransactions()
	require.Len(t, active, 1)
	assert.Equal(t, txn.GetID(), active[0])

	require.NoError(t, tm.Commit(txn))
	assert.Empty(t, tm.ActiveTransactions())
}
