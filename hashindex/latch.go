package hashindex

import "sync"

// maxReaders bounds concurrent readers the way a real implementation bounded by a fixed-width counter
// would; it is large enough that ordinary contention never approaches it.
const maxReaders = 1 << 20

// Latch is a writer-preferring reader/writer lock: once a writer is waiting, new readers queue up behind
// it rather than continuing to join the existing reader set, so a steady stream of readers cannot starve a
// writer out indefinitely.
type Latch struct {
	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writerActive   bool
	writersWaiting int
}

func NewLatch() *Latch {
	l := &Latch{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Latch) RLock() {
	l.mu.Lock()
	for l.writerActive || l.writersWaiting > 0 || l.readers >= maxReaders {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

func (l *Latch) RUnlock() {
	l.mu.Lock()
	l.readers--
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *Latch) WLock() {
	l.mu.Lock()
	l.writersWaiting++
	for l.writerActive {
		l.cond.Wait()
	}
	l.writersWaiting--
	l.writerActive = true
	for l.readers > 0 {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *Latch) WUnlock() {
	l.mu.Lock()
	l.writerActive = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
