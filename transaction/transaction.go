// Package transaction defines the thin handle threaded through buffer-pool and WAL calls: an id plus the
// one piece of state recovery's undo walk needs, the LSN of that transaction's most recently appended
// record. Row and page locking belong to the executor layer this module does not implement.
package transaction

import (
	"sync/atomic"

	"shelfdb/disk/pages"
)

type TxnID uint64

type Transaction interface {
	GetID() TxnID

	// GetPrevLsn returns the LSN of this transaction's most recently appended log record, or
	// pages.ZeroLSN if it has not appended one yet.
	GetPrevLsn() pages.LSN
	SetPrevLsn(pages.LSN)
}

var _ Transaction = &txn{}

type txn struct {
	id      TxnID
	prevLsn pages.LSN
}

func (t *txn) GetID() TxnID {
	return t.id
}

func (t *txn) GetPrevLsn() pages.LSN {
	return t.prevLsn
}

func (t *txn) SetPrevLsn(lsn pages.LSN) {
	t.prevLsn = lsn
}

// New returns a transaction handle with the given id and no prior log record. The transaction manager is
// the only caller expected to use this directly, since it alone assigns ids that do not collide.
func New(id TxnID) Transaction {
	return &txn{id: id, prevLsn: pages.ZeroLSN}
}

var noopCounter uint64

// TxnTODO returns a fresh transaction handle for call sites that need one to satisfy an API but do not
// participate in the transaction manager's bookkeeping (demo code, ad hoc tests).
func TxnTODO() Transaction {
	id := atomic.AddUint64(&noopCounter, 1)
	return &txn{id: TxnID(id), prevLsn: pages.ZeroLSN}
}
