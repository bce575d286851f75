// Package recovery replays write-ahead log records against a live buffer pool. It is used two ways: by
// the crash-recovery runner's redo and undo passes, and by the transaction manager's Abort, which applies
// the same per-record effects to undo a still-running transaction. Keeping the effect logic here, rather
// than duplicated in both callers, is what guarantees a redo and an abort-time undo of the same record
// type always do the same thing to a page.
package recovery

import (
	"fmt"

	"shelfdb/buffer"
	"shelfdb/disk/wal"
	"shelfdb/storage"
)

// Apply performs one log record's forward effect against whatever page it names. BEGIN/COMMIT/ABORT carry
// no page effect. NEWPAGE is handled by the caller, which fetches the logged page and links it into its
// chain.
func Apply(pool buffer.Pool, lr *wal.LogRecord) error {
	switch lr.T {
	case wal.TypeBegin, wal.TypeCommit, wal.TypeAbort, wal.TypeNewPage:
		return nil
	}

	p, err := pool.FetchPage(lr.RID.PageID)
	if err != nil {
		return fmt.Errorf("recovery: fetching page %d: %w", lr.RID.PageID, err)
	}

	// A page already at or past this record's LSN has already absorbed its effect (normal operation, or
	// a previous recovery run); applying it again would be redundant at best and wrong for a MARKDELETE/
	// ROLLBACKDELETE pair replayed out of order, so redo and abort/undo are both idempotent by construction.
	applied := false
	if p.GetPageLSN() < lr.Lsn {
		p.WLatch()
		switch lr.T {
		case wal.TypeInsert, wal.TypeRollbackDelete:
			storage.WriteSlot(p.GetData(), lr.RID.SlotNum, lr.Tuple)
		case wal.TypeMarkDelete, wal.TypeApplyDelete:
			storage.MarkSlotDeleted(p.GetData(), lr.RID.SlotNum)
		case wal.TypeUpdate:
			storage.WriteSlot(p.GetData(), lr.RID.SlotNum, lr.Tuple)
		}
		p.SetPageLSN(lr.Lsn)
		p.WUnlatch()
		applied = true
	}

	pool.UnpinPage(lr.RID.PageID, applied)
	return nil
}
