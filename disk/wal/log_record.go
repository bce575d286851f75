package wal

import (
	"errors"

	"shelfdb/disk/pages"
	"shelfdb/storage"
	"shelfdb/transaction"
)

type LogRecordType uint8

const (
	TypeInvalid LogRecordType = iota
	TypeBegin
	TypeCommit
	TypeAbort
	TypeInsert
	TypeMarkDelete
	TypeApplyDelete
	TypeRollbackDelete
	TypeUpdate
	TypeNewPage
)

// LogRecord is one entry of the write-ahead log. Which fields are meaningful depends on T: BEGIN/COMMIT/
// ABORT carry only the header; INSERT/MARKDELETE/APPLYDELETE/ROLLBACKDELETE carry RID+Tuple; UPDATE carries
// RID+old Tuple+new Tuple; NEWPAGE carries PageID+PrevPageID.
type LogRecord struct {
	T       LogRecordType
	TxnID   transaction.TxnID
	Lsn     pages.LSN
	PrevLsn pages.LSN

	RID    storage.RID
	Tuple  storage.Tuple
	OldTup storage.Tuple

	PageID     storage.PageID
	PrevPageID storage.PageID
}

func NewBeginLogRecord(txnId transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeBegin, TxnID: txnId}
}

func NewCommitLogRecord(txnId transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeCommit, TxnID: txnId}
}

func NewAbortLogRecord(txnId transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeAbort, TxnID: txnId}
}

func NewInsertLogRecord(txnId transaction.TxnID, rid storage.RID, tuple storage.Tuple) *LogRecord {
	return &LogRecord{T: TypeInsert, TxnID: txnId, RID: rid, Tuple: tuple}
}

func NewMarkDeleteLogRecord(txnId transaction.TxnID, rid storage.RID, tuple storage.Tuple) *LogRecord {
	return &LogRecord{T: TypeMarkDelete, TxnID: txnId, RID: rid, Tuple: tuple}
}

func NewApplyDeleteLogRecord(txnId transaction.TxnID, rid storage.RID, tuple storage.Tuple) *LogRecord {
	return &LogRecord{T: TypeApplyDelete, TxnID: txnId, RID: rid, Tuple: tuple}
}

func NewRollbackDeleteLogRecord(txnId transaction.TxnID, rid storage.RID, tuple storage.Tuple) *LogRecord {
	return &LogRecord{T: TypeRollbackDelete, TxnID: txnId, RID: rid, Tuple: tuple}
}

func NewUpdateLogRecord(txnId transaction.TxnID, rid storage.RID, oldTup, newTup storage.Tuple) *LogRecord {
	return &LogRecord{T: TypeUpdate, TxnID: txnId, RID: rid, OldTup: oldTup, Tuple: newTup}
}

func NewNewPageLogRecord(txnId transaction.TxnID, pageId, prevPageId storage.PageID) *LogRecord {
	return &LogRecord{T: TypeNewPage, TxnID: txnId, PageID: pageId, PrevPageID: prevPageId}
}

// Undo returns the log record that reverses this one's effect, for use by recovery's undo pass and by
// concurrency.TxnManagerImpl.Abort. Records with no inverse (BEGIN/COMMIT/ABORT/NEWPAGE) return an error.
func (l *LogRecord) Undo() (*LogRecord, error) {
	switch l.T {
	case TypeInsert:
		return NewApplyDeleteLogRecord(l.TxnID, l.RID, l.Tuple), nil
	case TypeApplyDelete:
		return NewInsertLogRecord(l.TxnID, l.RID, l.Tuple), nil
	case TypeMarkDelete:
		return NewRollbackDeleteLogRecord(l.TxnID, l.RID, l.Tuple), nil
	case TypeRollbackDelete:
		return NewMarkDeleteLogRecord(l.TxnID, l.RID, l.Tuple), nil
	case TypeUpdate:
		return NewUpdateLogRecord(l.TxnID, l.RID, l.Tuple, l.OldTup), nil
	default:
		return nil, errors.New("wal: log record of this type has no inverse")
	}
}

func (l *LogRecord) hasTuplePayload() bool {
	switch l.T {
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete, TypeUpdate:
		return true
	default:
		return false
	}
}
