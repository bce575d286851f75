package hashindex

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"shelfdb/buffer"
	"shelfdb/storage"
	"shelfdb/transaction"
)

// ErrCapacityExceeded is returned by Resize/resizeLocked when growing the index would need more block
// pages than a header page can list, and by Insert when that happens as a side effect of probing past the
// end of the table.
var ErrCapacityExceeded = errors.New("hashindex: block count would exceed header page capacity")

// HashTable is a disk-resident linear-probing hash index over fixed-size key/value pairs. Every read or
// write goes through the buffer pool; the table itself only ever holds a header page id, the cached slot
// count, and its own reader/writer latch.
type HashTable struct {
	headerPageId storage.PageID
	slotsPerPage int
	size         uint64

	pool  buffer.Pool
	latch *Latch
}

// NewHashTable creates a fresh index backed by enough block pages to hold at least numBuckets slots.
func NewHashTable(pool buffer.Pool, numBuckets uint64) (*HashTable, error) {
	header, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("hashindex: allocating header page: %w", err)
	}
	headerPageId := header.GetPageId()

	ht := &HashTable{
		headerPageId: headerPageId,
		slotsPerPage: BlockArraySize,
		pool:         pool,
		latch:        NewLatch(),
	}

	needed := ht.blocksFor(numBuckets)
	if needed > maxHeaderBlocks {
		pool.UnpinPage(headerPageId, false)
		pool.DeletePage(headerPageId)
		return nil, ErrCapacityExceeded
	}

	for i := 0; i < needed; i++ {
		block, err := pool.NewPage()
		if err != nil {
			pool.UnpinPage(headerPageId, true)
			return nil, fmt.Errorf("hashindex: allocating block page: %w", err)
		}
		headerAddBlockPageId(header.GetData(), block.GetPageId())
		pool.UnpinPage(block.GetPageId(), true)
	}

	headerSetSize(header.GetData(), numBuckets)
	ht.size = numBuckets
	pool.UnpinPage(headerPageId, true)
	return ht, nil
}

// OpenHashTable reattaches to an index whose header page already exists, reading its cached slot count
// back out.
func OpenHashTable(pool buffer.Pool, headerPageId storage.PageID) (*HashTable, error) {
	header, err := pool.FetchPage(headerPageId)
	if err != nil {
		return nil, fmt.Errorf("hashindex: fetching header page %d: %w", headerPageId, err)
	}
	size := headerGetSize(header.GetData())
	pool.UnpinPage(headerPageId, false)

	return &HashTable{
		headerPageId: headerPageId,
		slotsPerPage: BlockArraySize,
		size:         size,
		pool:         pool,
		latch:        NewLatch(),
	}, nil
}

func (ht *HashTable) HeaderPageId() storage.PageID { return ht.headerPageId }

func (ht *HashTable) blocksFor(slots uint64) int {
	return int((slots + uint64(ht.slotsPerPage) - 1) / uint64(ht.slotsPerPage))
}

func encodeKey(key []byte) blockKey {
	if len(key) > KeySize {
		panic("hashindex: key longer than KeySize")
	}
	var k blockKey
	copy(k[:], key)
	return k
}

func (ht *HashTable) hash(k blockKey) uint64 {
	return xxhash.Sum64(k[:])
}

// GetValue returns every value stored under key. A nil/empty result means no match; callers must not read
// significance into a returned error beyond "something went wrong fetching a page", matching the upstream
// behavior this index preserves of reporting no error once probing simply runs past the end of the table.
func (ht *HashTable) GetValue(txn transaction.Transaction, key []byte) ([]storage.RID, error) {
	ht.latch.RLock()
	defer ht.latch.RUnlock()

	enc := encodeKey(key)
	pos := ht.hash(enc) % ht.size

	var results []storage.RID
	for pos < ht.size {
		block, slot, err := ht.blockFor(pos)
		if err != nil {
			return results, err
		}

		p, err := ht.pool.FetchPage(block)
		if err != nil {
			return results, fmt.Errorf("hashindex: fetching block page %d: %w", block, err)
		}

		occupied := blockIsOccupied(p.GetData(), slot)
		if occupied && blockIsReadable(p.GetData(), slot) && blockKeyAt(p.GetData(), slot) == enc {
			results = append(results, blockValueAt(p.GetData(), slot))
		}
		ht.pool.UnpinPage(block, false)

		if !occupied {
			break
		}
		pos++
	}
	return results, nil
}

// Insert adds key/value, growing the table (doubling its logical size) when probing runs off the end
// without finding a free slot. It returns false without error for a duplicate key/value pair, and false
// with ErrCapacityExceeded if growth would need more block pages than a header page can address.
func (ht *HashTable) Insert(txn transaction.Transaction, key []byte, value storage.RID) (bool, error) {
	ht.latch.WLock()
	defer ht.latch.WUnlock()

	enc := encodeKey(key)

	for {
		pos := ht.hash(enc) % ht.size
		for pos < ht.size {
			block, slot, err := ht.blockFor(pos)
			if err != nil {
				return false, err
			}

			p, err := ht.pool.FetchPage(block)
			if err != nil {
				return false, fmt.Errorf("hashindex: fetching block page %d: %w", block, err)
			}

			if blockIsReadable(p.GetData(), slot) && blockKeyAt(p.GetData(), slot) == enc && blockValueAt(p.GetData(), slot) == value {
				ht.pool.UnpinPage(block, false)
				return false, nil
			}

			if !blockIsReadable(p.GetData(), slot) {
				blockInsert(p.GetData(), slot, enc, value)
				ht.pool.UnpinPage(block, true)
				return true, nil
			}

			ht.pool.UnpinPage(block, false)
			pos++
		}

		if err := ht.resizeLocked(ht.size * 2); err != nil {
			return false, err
		}
	}
}

// Remove clears the key/value pair's readable bit, leaving a tombstone. It returns false if the pair is
// not present.
func (ht *HashTable) Remove(txn transaction.Transaction, key []byte, value storage.RID) (bool, error) {
	ht.latch.WLock()
	defer ht.latch.WUnlock()

	enc := encodeKey(key)
	pos := ht.hash(enc) % ht.size

	for pos < ht.size {
		block, slot, err := ht.blockFor(pos)
		if err != nil {
			return false, err
		}

		p, err := ht.pool.FetchPage(block)
		if err != nil {
			return false, fmt.Errorf("hashindex: fetching block page %d: %w", block, err)
		}

		if !blockIsOccupied(p.GetData(), slot) {
			ht.pool.UnpinPage(block, false)
			return false, nil
		}

		if blockIsReadable(p.GetData(), slot) && blockKeyAt(p.GetData(), slot) == enc && blockValueAt(p.GetData(), slot) == value {
			blockRemove(p.GetData(), slot)
			ht.pool.UnpinPage(block, true)
			return true, nil
		}

		ht.pool.UnpinPage(block, false)
		pos++
	}
	return false, nil
}

// Resize takes the write latch itself before delegating to resizeLocked, for callers outside of Insert
// that do not already hold it.
func (ht *HashTable) Resize(txn transaction.Transaction, newSize uint64) error {
	ht.latch.WLock()
	defer ht.latch.WUnlock()
	return ht.resizeLocked(newSize)
}

// resizeLocked requires the write latch to already be held. It grows the block page chain to cover
// newSize slots, then rehashes every currently-readable entry from the old slot range directly into the
// expanded array, bypassing Insert so rehashing one entry can never itself trigger a nested resize.
func (ht *HashTable) resizeLocked(newSize uint64) error {
	header, err := ht.pool.FetchPage(ht.headerPageId)
	if err != nil {
		return fmt.Errorf("hashindex: fetching header page: %w", err)
	}

	needed := ht.blocksFor(newSize)
	if needed > maxHeaderBlocks {
		ht.pool.UnpinPage(ht.headerPageId, false)
		return ErrCapacityExceeded
	}

	current := headerNumBlocks(header.GetData())
	for current < needed {
		block, err := ht.pool.NewPage()
		if err != nil {
			ht.pool.UnpinPage(ht.headerPageId, true)
			return fmt.Errorf("hashindex: allocating block page during resize: %w", err)
		}
		headerAddBlockPageId(header.GetData(), block.GetPageId())
		ht.pool.UnpinPage(block.GetPageId(), true)
		current++
	}

	oldSize := ht.size
	type carried struct {
		key   blockKey
		value storage.RID
	}
	var toRehash []carried

	for i := uint64(0); i < oldSize; i++ {
		blockIdx := int(i / uint64(ht.slotsPerPage))
		slot := int(i % uint64(ht.slotsPerPage))
		blockId := headerBlockPageId(header.GetData(), blockIdx)

		p, err := ht.pool.FetchPage(blockId)
		if err != nil {
			ht.pool.UnpinPage(ht.headerPageId, true)
			return fmt.Errorf("hashindex: fetching block page %d during resize: %w", blockId, err)
		}

		if blockIsReadable(p.GetData(), slot) {
			toRehash = append(toRehash, carried{key: blockKeyAt(p.GetData(), slot), value: blockValueAt(p.GetData(), slot)})
			blockRemove(p.GetData(), slot)
			ht.pool.UnpinPage(blockId, true)
		} else {
			ht.pool.UnpinPage(blockId, false)
		}
	}

	ht.size = newSize
	for _, c := range toRehash {
		if err := ht.placeDirect(header.GetData(), c.key, c.value); err != nil {
			ht.pool.UnpinPage(ht.headerPageId, true)
			return err
		}
	}

	headerSetSize(header.GetData(), newSize)
	ht.pool.UnpinPage(ht.headerPageId, true)
	return nil
}

// placeDirect inserts key/value at the first free slot found by probing from its hashed position. Unlike
// Insert it never grows the table: resizeLocked has already sized the table to hold every entry it is
// rehashing, so running off the end here is this module's own bug rather than a capacity problem.
func (ht *HashTable) placeDirect(headerData []byte, key blockKey, value storage.RID) error {
	pos := ht.hash(key) % ht.size
	for pos < ht.size {
		blockIdx := int(pos / uint64(ht.slotsPerPage))
		slot := int(pos % uint64(ht.slotsPerPage))
		blockId := headerBlockPageId(headerData, blockIdx)

		p, err := ht.pool.FetchPage(blockId)
		if err != nil {
			return fmt.Errorf("hashindex: fetching block page %d while rehashing: %w", blockId, err)
		}

		if !blockIsOccupied(p.GetData(), slot) {
			blockInsert(p.GetData(), slot, key, value)
			ht.pool.UnpinPage(blockId, true)
			return nil
		}

		ht.pool.UnpinPage(blockId, false)
		pos++
	}
	panic("hashindex: rehash ran past the resized table without finding a free slot")
}

// blockFor translates an absolute slot position into a block page id and in-block slot index.
func (ht *HashTable) blockFor(pos uint64) (storage.PageID, int, error) {
	header, err := ht.pool.FetchPage(ht.headerPageId)
	if err != nil {
		return storage.InvalidPageID, 0, fmt.Errorf("hashindex: fetching header page: %w", err)
	}
	blockIdx := int(pos / uint64(ht.slotsPerPage))
	slot := int(pos % uint64(ht.slotsPerPage))
	id := headerBlockPageId(header.GetData(), blockIdx)
	ht.pool.UnpinPage(ht.headerPageId, false)
	return id, slot, nil
}
