package buffer

import "sync"

// ClockReplacer implements second-chance page replacement. Candidate frames are kept in an ordered list
// alongside a ref bit; a clock hand sweeps the list and evicts the first frame whose ref bit is clear,
// clearing the ref bit of everything it passes over along the way.
type ClockReplacer struct {
	entries []clockEntry
	pos     map[int]int // frameId -> index in entries, kept in sync with entries
	hand    int
	lock    sync.Mutex
}

type clockEntry struct {
	frameId int
	ref     bool
}

var _ Replacer = &ClockReplacer{}

func NewClockReplacer(poolSize int) *ClockReplacer {
	return &ClockReplacer{
		entries: make([]clockEntry, 0, poolSize),
		pos:     make(map[int]int, poolSize),
	}
}

func (c *ClockReplacer) Pin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	idx, ok := c.pos[frameId]
	if !ok {
		return
	}
	c.removeAt(idx)
}

func (c *ClockReplacer) Unpin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if idx, ok := c.pos[frameId]; ok {
		c.entries[idx].ref = true
		return
	}

	c.pos[frameId] = len(c.entries)
	c.entries = append(c.entries, clockEntry{frameId: frameId, ref: true})
}

// Victim sweeps from the clock hand, clearing ref bits, until it finds a frame with ref already clear.
// It gives up after two full revolutions of the list, matching the spec's non-starvation guarantee.
func (c *ClockReplacer) Victim() (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if len(c.entries) == 0 {
		return 0, false
	}

	revolutions := 0
	scanned := 0
	for {
		if c.hand >= len(c.entries) {
			c.hand = 0
		}

		e := &c.entries[c.hand]
		if !e.ref {
			frameId := e.frameId
			c.removeAt(c.hand)
			// hand now points at what used to be the next entry; leave it there.
			return frameId, true
		}

		e.ref = false
		c.hand++
		scanned++
		if scanned >= len(c.entries) {
			scanned = 0
			revolutions++
			if revolutions >= 2 {
				return 0, false
			}
		}
	}
}

func (c *ClockReplacer) Size() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.entries)
}

// removeAt deletes entries[idx], preserving the relative order of everything else, and keeps pos
// consistent. The hand stays at idx so the next sweep starts at whatever entry was immediately after the
// removed one, rather than at an unrelated entry swapped into its place. Caller must hold c.lock.
func (c *ClockReplacer) removeAt(idx int) {
	frameId := c.entries[idx].frameId
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	delete(c.pos, frameId)

	for i := idx; i < len(c.entries); i++ {
		c.pos[c.entries[i].frameId] = i
	}

	if len(c.entries) == 0 {
		c.hand = 0
	} else if c.hand >= len(c.entries) {
		c.hand = 0
	}
}
