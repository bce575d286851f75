package wal

import (
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"shelfdb/disk/pages"
)

const bufSize = 1024 * 64

// LogManager is the append/flush half of the WAL: AppendLog hands records an LSN and copies their bytes
// into the active buffer; a background flusher (started by RunFlusher) or a caller of Flush swaps buffers
// and writes the flushed one through to the disk manager. WaitAppendLog appends and then blocks until a
// flush has made the record durable.
type LogManager interface {
	AppendLog(lr *LogRecord) pages.LSN
	WaitAppendLog(lr *LogRecord) pages.LSN
	RunFlusher()
	StopFlusher() error
	Flush() error
	GetFlushedLSN() pages.LSN
}

var _ LogManager = &LogManagerImpl{}

type LogManagerImpl struct {
	serializer LogRecordSerializer

	currLsn uint64

	bufM sync.Mutex
	area []byte
	gw   *GroupWriter
}

func NewLogManager(w io.Writer) *LogManagerImpl {
	return &LogManagerImpl{
		serializer: DefaultLogRecordSerializer{},
		area:       make([]byte, bufSize),
		gw:         NewGroupWriter(bufSize, w),
	}
}

// AppendLog appends a log record to the active buffer, assigns and returns its LSN. It does not wait for
// the record to be flushed; use WaitAppendLog when durability must be observed before returning (e.g.
// commit).
func (l *LogManagerImpl) AppendLog(lr *LogRecord) pages.LSN {
	l.bufM.Lock()
	defer l.bufM.Unlock()

	return l.appendLocked(lr)
}

func (l *LogManagerImpl) WaitAppendLog(lr *LogRecord) pages.LSN {
	l.bufM.Lock()
	lsn := l.appendLocked(lr)
	l.bufM.Unlock()

	// a flush that was already in progress when lr was appended broadcasts too; keep waiting until the
	// flushed LSN actually covers lr.
	for l.GetFlushedLSN() < lsn {
		l.gw.flushEvent.Wait()
	}
	return lsn
}

// appendLocked requires l.bufM to be held.
func (l *LogManagerImpl) appendLocked(lr *LogRecord) pages.LSN {
	lr.Lsn = pages.LSN(atomic.AddUint64(&l.currLsn, 1))

	size := l.serializer.Size(lr)
	if size > len(l.area) {
		l.area = make([]byte, size)
	}
	l.serializer.Serialize(lr, l.area)

	if _, err := l.gw.Write(l.area[:size], lr.Lsn); err != nil {
		log.Printf("wal: appending log record failed: %v\n", err)
	}
	return lr.Lsn
}

func (l *LogManagerImpl) RunFlusher() {
	l.gw.RunFlusher()
}

func (l *LogManagerImpl) StopFlusher() error {
	return l.gw.StopFlusher()
}

// Flush is an atomic swap of the active and flush buffers followed by a durable write of the latter.
func (l *LogManagerImpl) Flush() error {
	l.bufM.Lock()
	defer l.bufM.Unlock()

	err := l.gw.SwapAndWaitFlush()
	if err == nil {
		log.Printf("wal: flushed %s up to lsn %d\n", humanize.Bytes(uint64(l.gw.flushOffset)), l.gw.latestFlushed)
	}
	return err
}

// GetFlushedLSN returns the highest LSN known to be durable on disk.
func (l *LogManagerImpl) GetFlushedLSN() pages.LSN {
	return l.gw.latestFlushed
}
