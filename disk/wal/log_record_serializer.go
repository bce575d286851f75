package wal

import (
	"encoding/binary"
	"errors"

	"shelfdb/disk/pages"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// ErrShortRead is returned by Deserialize when src does not contain a full record. Callers reading the log
// sequentially treat it as "stop, there is nothing more complete to parse in this chunk".
var ErrShortRead = errors.New("wal: short read")

// headerSize is type(1) + size(4) + txnId(8) + lsn(8) + prevLsn(8).
const headerSize = 1 + 4 + 8 + 8 + 8
const ridSize = 8 + 4 // PageID + SlotNum

type LogRecordSerializer interface {
	Serialize(r *LogRecord, dst []byte) int
	Size(r *LogRecord) int

	// Deserialize parses one record starting at src[0]. It never reads past len(src). It returns
	// ErrShortRead if src is too short to contain a complete record.
	Deserialize(src []byte) (*LogRecord, int, error)
}

var _ LogRecordSerializer = DefaultLogRecordSerializer{}

type DefaultLogRecordSerializer struct{}

func (DefaultLogRecordSerializer) Size(r *LogRecord) int {
	size := headerSize
	switch r.T {
	case TypeNewPage:
		size += 8 + 8
	case TypeUpdate:
		size += ridSize + r.OldTup.Size() + r.Tuple.Size()
	default:
		if r.hasTuplePayload() {
			size += ridSize + r.Tuple.Size()
		}
	}
	return size
}

func (s DefaultLogRecordSerializer) Serialize(r *LogRecord, dst []byte) int {
	size := s.Size(r)
	if len(dst) < size {
		panic("wal: destination buffer too small for record")
	}

	dst[0] = byte(r.T)
	binary.BigEndian.PutUint32(dst[1:], uint32(size))
	binary.BigEndian.PutUint64(dst[5:], uint64(r.TxnID))
	binary.BigEndian.PutUint64(dst[13:], uint64(r.Lsn))
	binary.BigEndian.PutUint64(dst[21:], uint64(r.PrevLsn))

	off := headerSize
	switch r.T {
	case TypeBegin, TypeCommit, TypeAbort:
		// header only
	case TypeNewPage:
		binary.BigEndian.PutUint64(dst[off:], uint64(r.PageID))
		binary.BigEndian.PutUint64(dst[off+8:], uint64(r.PrevPageID))
	case TypeUpdate:
		off += putRID(dst[off:], r.RID)
		off += r.OldTup.SerializeTo(dst[off:])
		r.Tuple.SerializeTo(dst[off:])
	default:
		off += putRID(dst[off:], r.RID)
		r.Tuple.SerializeTo(dst[off:])
	}

	return size
}

func (DefaultLogRecordSerializer) Deserialize(src []byte) (*LogRecord, int, error) {
	if len(src) < headerSize {
		return nil, 0, ErrShortRead
	}

	t := LogRecordType(src[0])
	size := int(binary.BigEndian.Uint32(src[1:]))
	if size <= 0 || size > len(src) {
		return nil, 0, ErrShortRead
	}

	r := &LogRecord{
		T:       t,
		TxnID:   transaction.TxnID(binary.BigEndian.Uint64(src[5:])),
		Lsn:     pages.LSN(binary.BigEndian.Uint64(src[13:])),
		PrevLsn: pages.LSN(binary.BigEndian.Uint64(src[21:])),
	}

	off := headerSize
	switch t {
	case TypeBegin, TypeCommit, TypeAbort:
		// nothing more to read
	case TypeNewPage:
		r.PageID = storage.PageID(binary.BigEndian.Uint64(src[off:]))
		r.PrevPageID = storage.PageID(binary.BigEndian.Uint64(src[off+8:]))
	case TypeUpdate:
		n := getRID(src[off:], &r.RID)
		off += n
		old, n := storage.DeserializeFrom(src[off:])
		r.OldTup = old
		off += n
		newTup, _ := storage.DeserializeFrom(src[off:])
		r.Tuple = newTup
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		n := getRID(src[off:], &r.RID)
		off += n
		tup, _ := storage.DeserializeFrom(src[off:])
		r.Tuple = tup
	default:
		return nil, 0, errors.New("wal: unknown log record type")
	}

	return r, size, nil
}

func putRID(dst []byte, rid storage.RID) int {
	binary.BigEndian.PutUint64(dst, uint64(rid.PageID))
	binary.BigEndian.PutUint32(dst[8:], rid.SlotNum)
	return ridSize
}

func getRID(src []byte, rid *storage.RID) int {
	rid.PageID = storage.PageID(binary.BigEndian.Uint64(src))
	rid.SlotNum = binary.BigEndian.Uint32(src[8:])
	return ridSize
}
