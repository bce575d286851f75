// Package concurrency is the minimal ARIES-adjacent layer above the buffer pool and write-ahead log: a
// transaction manager that begins, commits and aborts transactions, logging and applying each page-level
// effect so an abort can undo it from the very same records a crash recovery would replay.
package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"

	"shelfdb/buffer"
	"shelfdb/disk/wal"
	"shelfdb/recovery"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// activeTxn is the manager's private bookkeeping for a running transaction: its public handle plus the
// records it has appended so far, kept so Abort can walk them backwards without re-reading the log file.
type activeTxn struct {
	handle  transaction.Transaction
	records []*wal.LogRecord
}

// TxnManager begins, commits and aborts transactions, logging and applying every page-level effect along
// the way so an abort or a crash can be undone from the very same records.
type TxnManager interface {
	Begin() transaction.Transaction
	Commit(txn transaction.Transaction) error
	Abort(txn transaction.Transaction) error
	ActiveTransactions() []transaction.TxnID

	NewPage(txn transaction.Transaction, prevPageId storage.PageID) (storage.PageID, error)
	Insert(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error
	MarkDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error
	ApplyDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error
	RollbackDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error
	Update(txn transaction.Transaction, rid storage.RID, oldTuple, newTuple storage.Tuple) error
}

var _ TxnManager = &TxnManagerImpl{}

type TxnManagerImpl struct {
	pool buffer.Pool
	lm   wal.LogManager

	mut        sync.Mutex
	actives    map[transaction.TxnID]*activeTxn
	txnCounter atomic.Uint64
}

func NewTxnManager(pool buffer.Pool, lm wal.LogManager) *TxnManagerImpl {
	return &TxnManagerImpl{
		pool:    pool,
		lm:      lm,
		actives: map[transaction.TxnID]*activeTxn{},
	}
}

func (t *TxnManagerImpl) Begin() transaction.Transaction {
	t.mut.Lock()
	defer t.mut.Unlock()

	id := transaction.TxnID(t.txnCounter.Add(1))
	handle := transaction.New(id)

	lr := wal.NewBeginLogRecord(id)
	lsn := t.lm.AppendLog(lr)
	handle.SetPrevLsn(lsn)

	t.actives[id] = &activeTxn{handle: handle, records: []*wal.LogRecord{lr}}
	return handle
}

// Commit waits for the COMMIT record to be durable before returning, so a caller that has received success
// from Commit knows the transaction survives a crash.
func (t *TxnManagerImpl) Commit(txn transaction.Transaction) error {
	if _, ok := t.lookup(txn.GetID()); !ok {
		return fmt.Errorf("concurrency: commit: txn %d is not active", txn.GetID())
	}

	lr := wal.NewCommitLogRecord(txn.GetID())
	lr.PrevLsn = txn.GetPrevLsn()
	t.lm.WaitAppendLog(lr)

	t.mut.Lock()
	delete(t.actives, txn.GetID())
	t.mut.Unlock()
	return nil
}

// Abort walks the transaction's own log chain backwards, applying each record's inverse to the buffer
// pool and appending the inverse as its own record (a compensation log record, in ARIES terms), then
// appends an ABORT record.
func (t *TxnManagerImpl) Abort(txn transaction.Transaction) error {
	at, ok := t.lookup(txn.GetID())
	if !ok {
		return fmt.Errorf("concurrency: abort: txn %d is not active", txn.GetID())
	}

	for i := len(at.records) - 1; i >= 0; i-- {
		undo, err := at.records[i].Undo()
		if err != nil {
			// BEGIN and NEWPAGE carry no inverse.
			continue
		}
		// Assign the compensation record its LSN before applying it: Apply only mutates a page whose LSN
		// is behind the record it is given, so undo must carry a real LSN rather than the zero value.
		t.appendAndTrack(txn, undo)
		if err := recovery.Apply(t.pool, undo); err != nil {
			return fmt.Errorf("concurrency: abort: applying undo of lsn %d: %w", undo.Lsn, err)
		}
	}

	lr := wal.NewAbortLogRecord(txn.GetID())
	lr.PrevLsn = txn.GetPrevLsn()
	t.lm.WaitAppendLog(lr)

	t.mut.Lock()
	delete(t.actives, txn.GetID())
	t.mut.Unlock()
	return nil
}

func (t *TxnManagerImpl) ActiveTransactions() []transaction.TxnID {
	t.mut.Lock()
	defer t.mut.Unlock()

	res := make([]transaction.TxnID, 0, len(t.actives))
	for id := range t.actives {
		res = append(res, id)
	}
	return res
}

func (t *TxnManagerImpl) lookup(id transaction.TxnID) (*activeTxn, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	at, ok := t.actives[id]
	return at, ok
}

// appendAndTrack assigns lr its LSN, chains it off the transaction's previous LSN, and remembers it in the
// transaction's own record list so a later Abort can find it without re-reading the log.
func (t *TxnManagerImpl) appendAndTrack(txn transaction.Transaction, lr *wal.LogRecord) {
	lr.PrevLsn = txn.GetPrevLsn()
	lsn := t.lm.AppendLog(lr)
	txn.SetPrevLsn(lsn)

	t.mut.Lock()
	if at, ok := t.actives[txn.GetID()]; ok {
		at.records = append(at.records, lr)
	}
	t.mut.Unlock()
}

func (t *TxnManagerImpl) NewPage(txn transaction.Transaction, prevPageId storage.PageID) (storage.PageID, error) {
	p, err := t.pool.NewPage()
	if err != nil {
		return storage.InvalidPageID, fmt.Errorf("concurrency: new page: %w", err)
	}
	pageId := p.GetPageId()
	storage.SetNextPageId(p.GetData(), storage.InvalidPageID)

	if prevPageId != storage.InvalidPageID {
		if prev, err := t.pool.FetchPage(prevPageId); err == nil {
			prev.WLatch()
			if storage.GetNextPageId(prev.GetData()) == storage.InvalidPageID {
				storage.SetNextPageId(prev.GetData(), pageId)
			}
			prev.WUnlatch()
			t.pool.UnpinPage(prevPageId, true)
		}
	}

	lr := wal.NewNewPageLogRecord(txn.GetID(), pageId, prevPageId)
	t.appendAndTrack(txn, lr)
	p.SetPageLSN(lr.Lsn)
	t.pool.UnpinPage(pageId, true)
	return pageId, nil
}

func (t *TxnManagerImpl) Insert(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error {
	return t.mutate(txn, rid.PageID, wal.NewInsertLogRecord(txn.GetID(), rid, tuple), func(data []byte) {
		storage.WriteSlot(data, rid.SlotNum, tuple)
	})
}

func (t *TxnManagerImpl) MarkDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error {
	return t.mutate(txn, rid.PageID, wal.NewMarkDeleteLogRecord(txn.GetID(), rid, tuple), func(data []byte) {
		storage.MarkSlotDeleted(data, rid.SlotNum)
	})
}

func (t *TxnManagerImpl) ApplyDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error {
	return t.mutate(txn, rid.PageID, wal.NewApplyDeleteLogRecord(txn.GetID(), rid, tuple), func(data []byte) {
		storage.MarkSlotDeleted(data, rid.SlotNum)
	})
}

func (t *TxnManagerImpl) RollbackDelete(txn transaction.Transaction, rid storage.RID, tuple storage.Tuple) error {
	return t.mutate(txn, rid.PageID, wal.NewRollbackDeleteLogRecord(txn.GetID(), rid, tuple), func(data []byte) {
		storage.WriteSlot(data, rid.SlotNum, tuple)
	})
}

func (t *TxnManagerImpl) Update(txn transaction.Transaction, rid storage.RID, oldTuple, newTuple storage.Tuple) error {
	return t.mutate(txn, rid.PageID, wal.NewUpdateLogRecord(txn.GetID(), rid, oldTuple, newTuple), func(data []byte) {
		storage.WriteSlot(data, rid.SlotNum, newTuple)
	})
}

// mutate fetches a page, applies fn to its bytes under its write latch, logs lr, stamps the page's LSN and
// unpins it dirty. Every data-modifying transaction operation shares this shape.
func (t *TxnManagerImpl) mutate(txn transaction.Transaction, pageId storage.PageID, lr *wal.LogRecord, fn func(data []byte)) error {
	if _, ok := t.lookup(txn.GetID()); !ok {
		return fmt.Errorf("concurrency: txn %d is not active", txn.GetID())
	}

	p, err := t.pool.FetchPage(pageId)
	if err != nil {
		return fmt.Errorf("concurrency: fetching page %d: %w", pageId, err)
	}

	p.WLatch()
	fn(p.GetData())
	p.WUnlatch()

	t.appendAndTrack(txn, lr)
	p.SetPageLSN(lr.Lsn)
	t.pool.UnpinPage(pageId, true)
	return nil
}
