package storage

import "encoding/binary"

// This file defines the minimal on-page layout recovery and the demo transaction manager need in order to
// have something concrete to redo, undo and inspect. It is intentionally not a general table heap: no
// variable-length slot directory, no compaction, no tuple headers beyond a single presence bit. A real
// table layout is an executor-level concern this module does not implement; this is just enough structure
// to make WAL apply/undo operations and their effects observable.
//
// Page layout: [0:8) next page id (int64, NEWPAGE chains) | [8:40) presence bitmap, one bit per slot |
// [40:) fixed-size slots, SlotSize bytes each.

const (
	nextPageIdOffset = 0
	bitmapOffset     = 8
	bitmapSize       = 32 // 256 slots worth of presence bits
	slotsOffset      = bitmapOffset + bitmapSize

	// SlotSize bounds how large a Tuple this minimal layout can hold per slot, length-prefix included.
	SlotSize = 256
)

func GetNextPageId(data []byte) PageID {
	return PageID(int64(binary.BigEndian.Uint64(data[nextPageIdOffset:])))
}

func SetNextPageId(data []byte, id PageID) {
	binary.BigEndian.PutUint64(data[nextPageIdOffset:], uint64(id))
}

func slotPresent(data []byte, slot uint32) bool {
	byteIdx := bitmapOffset + slot/8
	return data[byteIdx]&(1<<(slot%8)) != 0
}

func setSlotPresent(data []byte, slot uint32, present bool) {
	byteIdx := bitmapOffset + slot/8
	if present {
		data[byteIdx] |= 1 << (slot % 8)
	} else {
		data[byteIdx] &^= 1 << (slot % 8)
	}
}

func slotOffset(slot uint32) int {
	return slotsOffset + int(slot)*SlotSize
}

// WriteSlot stores tuple at the given slot and marks it present. It panics if the serialized tuple does
// not fit in SlotSize bytes, the same way a real slotted page would reject an oversized tuple.
func WriteSlot(data []byte, slot uint32, t Tuple) {
	off := slotOffset(slot)
	if t.Size() > SlotSize {
		panic("storage: tuple does not fit in a slot")
	}
	t.SerializeTo(data[off : off+SlotSize])
	setSlotPresent(data, slot, true)
}

// ReadSlot returns the tuple at the given slot and whether the slot is currently present (not deleted).
func ReadSlot(data []byte, slot uint32) (Tuple, bool) {
	if !slotPresent(data, slot) {
		return Tuple{}, false
	}
	off := slotOffset(slot)
	t, _ := DeserializeFrom(data[off : off+SlotSize])
	return t, true
}

// MarkSlotDeleted clears a slot's presence bit without touching its bytes, so a later rollback can restore
// it without having to re-supply the tuple.
func MarkSlotDeleted(data []byte, slot uint32) {
	setSlotPresent(data, slot, false)
}

// MarkSlotPresent restores a slot's presence bit, leaving its bytes as they are.
func MarkSlotPresent(data []byte, slot uint32) {
	setSlotPresent(data, slot, true)
}
