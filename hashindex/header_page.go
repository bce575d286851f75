package hashindex

import (
	"encoding/binary"

	"shelfdb/storage"
)

// Header page layout: size_ (8 bytes, total slot count across all blocks) | numBlocks (8 bytes) |
// block page ids (8 bytes each), following the pack's own hash table header page in spirit (a size field
// plus an ordered array of block page ids) but storing counts instead of a dedicated next-index cursor,
// since numBlocks and "next free index" are the same number here.
const (
	headerSizeOffset      = 0
	headerNumBlocksOffset = 8
	headerBlockIdsOffset  = 16
)

// maxHeaderBlocks is how many block page ids fit after the two 8-byte counters.
const maxHeaderBlocks = (4096 - headerBlockIdsOffset) / 8

func headerGetSize(data []byte) uint64 {
	return binary.BigEndian.Uint64(data[headerSizeOffset:])
}

func headerSetSize(data []byte, size uint64) {
	binary.BigEndian.PutUint64(data[headerSizeOffset:], size)
}

func headerNumBlocks(data []byte) int {
	return int(binary.BigEndian.Uint64(data[headerNumBlocksOffset:]))
}

func headerSetNumBlocks(data []byte, n int) {
	binary.BigEndian.PutUint64(data[headerNumBlocksOffset:], uint64(n))
}

func headerBlockPageId(data []byte, index int) storage.PageID {
	off := headerBlockIdsOffset + index*8
	return storage.PageID(int64(binary.BigEndian.Uint64(data[off:])))
}

func headerAddBlockPageId(data []byte, id storage.PageID) {
	n := headerNumBlocks(data)
	off := headerBlockIdsOffset + n*8
	binary.BigEndian.PutUint64(data[off:], uint64(id))
	headerSetNumBlocks(data, n+1)
}
