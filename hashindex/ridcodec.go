package hashindex

import (
	"encoding/binary"

	"shelfdb/storage"
)

const ridSize = 8 + 4

func putRID(dst []byte, rid storage.RID) {
	binary.BigEndian.PutUint64(dst, uint64(rid.PageID))
	binary.BigEndian.PutUint32(dst[8:], rid.SlotNum)
}

func getRID(src []byte, rid *storage.RID) {
	rid.PageID = storage.PageID(binary.BigEndian.Uint64(src))
	rid.SlotNum = binary.BigEndian.Uint32(src[8:])
}
