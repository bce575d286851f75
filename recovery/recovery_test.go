package recovery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfdb/buffer"
	"shelfdb/disk/wal"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// memDiskManager is a disk.IDiskManager double that keeps pages and the log in memory, the same in-memory
// fake pattern buffer's own tests use instead of touching a real file.
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

// logWriter adapts memDiskManager.WriteLog to the io.Writer the log manager wants, the same small adapter
// cmd/shelfdb uses against a real disk manager.
type logWriter struct{ d *memDiskManager }

func (w logWriter) Write(p []byte) (int, error) {
	if err := w.d.WriteLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func TestRecovery_Redoes_A_Committed_Transactions_Insert(t *testing.T) {
	dm := newMemDiskManager()
	lm := wal.NewLogManager(logWriter{dm})
	pool := buffer.NewBufferPool(dm, lm, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pageId := p.GetPageId()
	pool.UnpinPage(pageId, true)

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	tuple := storage.NewTuple([]byte("durable row"))

	lr := wal.NewInsertLogRecord(transaction.TxnID(1), rid, tuple)
	lm.AppendLog(wal.NewBeginLogRecord(transaction.TxnID(1)))
	lm.AppendLog(lr)
	lm.AppendLog(wal.NewCommitLogRecord(transaction.TxnID(1)))
	require.NoError(t, lm.Flush())

	// A fresh pool over the same disk manager standing in for a restart: the page above was never written back, only
	// logged, so only recovery can reconstruct it.
	freshPool := buffer.NewBufferPool(dm, lm, 4)
	runner := NewRunner(freshPool, dm, lm)

	redone, err := runner.Run()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, redone, 3)

	got, err := freshPool.FetchPage(pageId)
	require.NoError(t, err)
	stored, ok := storage.ReadSlot(got.GetData(), 0)
	require.True(t, ok)
	assert.Equal(t, "durable row", string(stored.Data))
	freshPool.UnpinPage(pageId, false)
}

func TestRecovery_Undoes_An_Uncommitted_Transactions_Insert(t *testing.T) {
	dm := newMemDiskManager()
	lm := wal.NewLogManager(logWriter{dm})
	pool := buffer.NewBufferPool(dm, lm, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pageId := p.GetPageId()
	pool.UnpinPage(pageId, true)

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	tuple := storage.NewTuple([]byte("half-done"))

	lm.AppendLog(wal.NewBeginLogRecord(transaction.TxnID(2)))
	lm.AppendLog(wal.NewInsertLogRecord(transaction.TxnID(2), rid, tuple))
	// No commit or abort: the crash happens mid-transaction.
	require.NoError(t, lm.Flush())

	freshPool := buffer.NewBufferPool(dm, lm, 4)
	runner := NewRunner(freshPool, dm, lm)

	_, err = runner.Run()
	require.NoError(t, err)

	got, err := freshPool.FetchPage(pageId)
	require.NoError(t, err)
	_, ok := storage.ReadSlot(got.GetData(), 0)
	assert.False(t, ok, "undo should have marked the slot deleted again")
	freshPool.UnpinPage(pageId, false)
}

func TestRecovery_Run_Is_Idempotent_On_An_Already_Recovered_Log(t *testing.T) {
	dm := newMemDiskManager()
	lm := wal.NewLogManager(logWriter{dm})
	pool := buffer.NewBufferPool(dm, lm, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pageId := p.GetPageId()
	pool.UnpinPage(pageId, true)

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	lm.AppendLog(wal.NewBeginLogRecord(transaction.TxnID(3)))
	lm.AppendLog(wal.NewInsertLogRecord(transaction.TxnID(3), rid, storage.NewTuple([]byte("once"))))
	lm.AppendLog(wal.NewCommitLogRecord(transaction.TxnID(3)))
	require.NoError(t, lm.Flush())

	runner := NewRunner(pool, dm, lm)
	_, err = runner.Run()
	require.NoError(t, err)

	second := NewRunner(pool, dm, lm)
	_, err = second.Run()
	require.NoError(t, err)

	got, err := pool.FetchPage(pageId)
	require.NoError(t, err)
	stored, ok := storage.ReadSlot(got.GetData(), 0)
	require.True(t, ok)
	assert.Equal(t, "once", string(stored.Data))
	pool.UnpinPage(pageId, false)
}
