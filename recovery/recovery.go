package recovery

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"shelfdb/buffer"
	"shelfdb/disk"
	"shelfdb/disk/pages"
	"shelfdb/disk/wal"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// chunkSize is how much of the log file Run reads per disk.ReadLog call during the redo pass. A record
// that straddles a chunk boundary is not redone on this pass, and the next chunk starts at the next
// chunkSize-aligned offset rather than immediately after the last complete record: a split record is
// skipped, not reassembled. chunkSize is chosen far larger than any record this module produces, so in
// practice this only matters for a log file truncated mid-record by a crash.
const chunkSize = 32 * 1024

// undoPeekSize bounds how many bytes undo re-reads for a single record once it already knows the record's
// offset from the redo pass's lsn index. It comfortably covers the largest record this module serializes
// (an UPDATE, header plus RID plus two slot-sized tuples).
const undoPeekSize = 4096

// Runner replays the write-ahead log against a buffer pool on startup: a redo pass applies every record's
// forward effect in LSN order, then an undo pass rolls back whichever transactions never reached COMMIT or
// ABORT before the crash, using each transaction's own prev_lsn chain.
type Runner struct {
	pool       buffer.Pool
	disk       disk.IDiskManager
	logManager wal.LogManager
	serializer wal.LogRecordSerializer

	lsnOffset map[pages.LSN]int64
	active    map[transaction.TxnID]pages.LSN
	maxLsn    pages.LSN
}

// NewRunner builds a recovery runner. logManager may be nil; when set, Run appends an ABORT record for
// every transaction it rolls back, the same as a live Abort would.
func NewRunner(pool buffer.Pool, d disk.IDiskManager, logManager wal.LogManager) *Runner {
	return &Runner{
		pool:       pool,
		disk:       d,
		logManager: logManager,
		serializer: wal.DefaultLogRecordSerializer{},
		lsnOffset:  map[pages.LSN]int64{},
		active:     map[transaction.TxnID]pages.LSN{},
	}
}

// Run executes the full redo-then-undo protocol and returns how many records were redone. It is
// idempotent: running it again over an already-recovered log redoes the same records (Apply only ever
// moves a page's LSN forward) and finds no active transactions left to undo.
func (r *Runner) Run() (int, error) {
	runID := uuid.New()

	redone, err := r.redo()
	if err != nil {
		return redone, fmt.Errorf("recovery[%s]: redo: %w", runID, err)
	}
	log.Printf("recovery[%s]: redo applied %d records, %d transactions left active\n", runID, redone, len(r.active))

	rolledBack := len(r.active)
	if err := r.undo(); err != nil {
		return redone, fmt.Errorf("recovery[%s]: undo: %w", runID, err)
	}
	log.Printf("recovery[%s]: undo rolled back %d transactions\n", runID, rolledBack)
	return redone, nil
}

func (r *Runner) redo() (int, error) {
	var offset int64
	buf := make([]byte, chunkSize)
	redone := 0

	for {
		n, ok, err := r.disk.ReadLog(buf, offset)
		if err != nil {
			return redone, err
		}
		if !ok {
			return redone, nil
		}

		chunk := buf[:n]
		pos := 0
		for {
			lr, consumed, derr := r.serializer.Deserialize(chunk[pos:])
			if derr != nil {
				break
			}
			r.lsnOffset[lr.Lsn] = offset + int64(pos)
			if lr.Lsn > r.maxLsn {
				r.maxLsn = lr.Lsn
			}
			if err := r.applyAndTrack(lr); err != nil {
				return redone, err
			}
			redone++
			pos += consumed
		}

		offset += int64(len(chunk))
	}
}

func (r *Runner) applyAndTrack(lr *wal.LogRecord) error {
	switch lr.T {
	case wal.TypeCommit, wal.TypeAbort:
		delete(r.active, lr.TxnID)
		return nil
	case wal.TypeBegin:
		r.active[lr.TxnID] = lr.Lsn
		return nil
	case wal.TypeNewPage:
		r.active[lr.TxnID] = lr.Lsn
		return r.applyNewPage(lr)
	default:
		r.active[lr.TxnID] = lr.Lsn
		return Apply(r.pool, lr)
	}
}

func (r *Runner) applyNewPage(lr *wal.LogRecord) error {
	p, err := r.pool.FetchPage(lr.PageID)
	if err != nil {
		return fmt.Errorf("recovery: redoing new-page record for page %d: %w", lr.PageID, err)
	}
	defer r.pool.UnpinPage(lr.PageID, true)

	if lr.PrevPageID != storage.InvalidPageID {
		if prev, err := r.pool.FetchPage(lr.PrevPageID); err == nil {
			prev.WLatch()
			if storage.GetNextPageId(prev.GetData()) == storage.InvalidPageID {
				storage.SetNextPageId(prev.GetData(), lr.PageID)
			}
			prev.WUnlatch()
			r.pool.UnpinPage(lr.PrevPageID, true)
		}
	}

	if lr.Lsn > p.GetPageLSN() {
		// a page that has not absorbed this record starts with no successor, as TxnManagerImpl.NewPage
		// leaves it; a later NEWPAGE naming it as prev then links it.
		storage.SetNextPageId(p.GetData(), storage.InvalidPageID)
		p.SetPageLSN(lr.Lsn)
	}
	return nil
}

func (r *Runner) undo() error {
	for txnId, lsn := range r.active {
		if err := r.undoTxn(lsn); err != nil {
			return fmt.Errorf("undoing txn %d: %w", txnId, err)
		}
		if r.logManager != nil {
			r.logManager.AppendLog(wal.NewAbortLogRecord(txnId))
		}
		delete(r.active, txnId)
	}
	return nil
}

// undoTxn walks one transaction's log chain backwards from lsn via prev_lsn, applying each record's
// inverse. Records with no inverse (BEGIN and NEWPAGE) are skipped. The walk stops at ZeroLSN or at an LSN
// the redo pass did not index.
func (r *Runner) undoTxn(lsn pages.LSN) error {
	peek := make([]byte, undoPeekSize)

	for lsn != pages.ZeroLSN {
		offset, ok := r.lsnOffset[lsn]
		if !ok {
			return nil
		}

		n, ok, err := r.disk.ReadLog(peek, offset)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("log truncated at lsn %d", lsn)
		}

		lr, _, err := r.serializer.Deserialize(peek[:n])
		if err != nil {
			return fmt.Errorf("re-reading record at lsn %d: %w", lsn, err)
		}

		if undo, uerr := lr.Undo(); uerr == nil {
			// Apply only mutates a page whose LSN is behind the record it is given, so the compensation
			// record needs a real LSN higher than anything already applied, not the zero value Undo leaves it.
			if r.logManager != nil {
				undo.Lsn = r.logManager.AppendLog(undo)
			} else {
				r.maxLsn++
				undo.Lsn = r.maxLsn
			}
			if err := Apply(r.pool, undo); err != nil {
				return fmt.Errorf("applying undo of lsn %d: %w", lsn, err)
			}
		}

		lsn = lr.PrevLsn
	}
	return nil
}
