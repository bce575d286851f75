package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfdb/storage"
	"shelfdb/transaction"
)

func roundTrip(t *testing.T, lr *LogRecord) *LogRecord {
	t.Helper()
	s := DefaultLogRecordSerializer{}

	size := s.Size(lr)
	buf := make([]byte, size)
	n := s.Serialize(lr, buf)
	require.Equal(t, size, n)

	got, consumed, err := s.Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, size, consumed)
	return got
}

func TestLogRecordSerializer_RoundTrips_Insert(t *testing.T) {
	lr := NewInsertLogRecord(transaction.TxnID(7), storage.RID{PageID: 3, SlotNum: 2}, storage.NewTuple([]byte("row")))
	lr.Lsn = 42
	lr.PrevLsn = 41

	got := roundTrip(t, lr)
	assert.Equal(t, lr.T, got.T)
	assert.Equal(t, lr.TxnID, got.TxnID)
	assert.Equal(t, lr.Lsn, got.Lsn)
	assert.Equal(t, lr.PrevLsn, got.PrevLsn)
	assert.Equal(t, lr.RID, got.RID)
	assert.Equal(t, lr.Tuple.Data, got.Tuple.Data)
}

func TestLogRecordSerializer_RoundTrips_Update(t *testing.T) {
	lr := NewUpdateLogRecord(transaction.TxnID(1), storage.RID{PageID: 9, SlotNum: 0},
		storage.NewTuple([]byte("old")), storage.NewTuple([]byte("newvalue")))
	lr.Lsn = 5

	got := roundTrip(t, lr)
	assert.Equal(t, "old", string(got.OldTup.Data))
	assert.Equal(t, "newvalue", string(got.Tuple.Data))
}

func TestLogRecordSerializer_RoundTrips_NewPage(t *testing.T) {
	lr := NewNewPageLogRecord(transaction.TxnID(2), storage.PageID(10), storage.PageID(4))
	lr.Lsn = 3

	got := roundTrip(t, lr)
	assert.Equal(t, storage.PageID(10), got.PageID)
	assert.Equal(t, storage.PageID(4), got.PrevPageID)
}

func TestLogRecordSerializer_RoundTrips_Begin(t *testing.T) {
	lr := NewBeginLogRecord(transaction.TxnID(1))
	lr.Lsn = 1

	got := roundTrip(t, lr)
	assert.Equal(t, TypeBegin, got.T)
}

func TestLogRecordSerializer_Deserialize_Short_Buffer_Is_ErrShortRead(t *testing.T) {
	s := DefaultLogRecordSerializer{}
	_, _, err := s.Deserialize([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestLogRecord_Undo_Inverts_Insert_And_Delete(t *testing.T) {
	rid := storage.RID{PageID: 1, SlotNum: 0}
	tup := storage.NewTuple([]byte("x"))

	ins := NewInsertLogRecord(1, rid, tup)
	undo, err := ins.Undo()
	require.NoError(t, err)
	assert.Equal(t, TypeApplyDelete, undo.T)

	markDel := NewMarkDeleteLogRecord(1, rid, tup)
	undo, err = markDel.Undo()
	require.NoError(t, err)
	assert.Equal(t, TypeRollbackDelete, undo.T)
}

func TestLogRecord_Undo_Has_No_Inverse_For_Begin(t *testing.T) {
	_, err := NewBeginLogRecord(1).Undo()
	assert.Error(t, err)
}

func TestLogRecord_Undo_Swaps_Update_Old_And_New(t *testing.T) {
	rid := storage.RID{PageID: 1, SlotNum: 0}
	upd := NewUpdateLogRecord(1, rid, storage.NewTuple([]byte("old")), storage.NewTuple([]byte("new")))

	undo, err := upd.Undo()
	require.NoError(t, err)
	assert.Equal(t, "new", string(undo.OldTup.Data))
	assert.Equal(t, "old", string(undo.Tuple.Data))
}
