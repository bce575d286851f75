// Command shelfdb is a small demonstration of the storage engine core: open a database file; if it already
// existed, run crash recovery over its log and stop; if it is new, drive a transaction through the buffer
// pool, the hash index and the write-ahead log.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"shelfdb/buffer"
	"shelfdb/concurrency"
	"shelfdb/disk"
	"shelfdb/disk/wal"
	"shelfdb/hashindex"
	"shelfdb/recovery"
	"shelfdb/storage"
)

func main() {
	path := flag.String("db", "shelfdb.db", "path to the database file")
	poolSize := flag.Int("pool-size", 32, "number of frames in the buffer pool")
	flag.Parse()

	if err := run(*path, *poolSize); err != nil {
		log.Fatalf("shelfdb: %v", err)
	}
}

func run(path string, poolSize int) error {
	diskManager, isNew, err := disk.NewDiskManager(path)
	if err != nil {
		return fmt.Errorf("opening disk manager: %w", err)
	}
	defer diskManager.Close()

	logManager := wal.NewLogManager(diskManagerLogWriter{diskManager})
	logManager.RunFlusher()
	defer logManager.StopFlusher()

	pool := buffer.NewBufferPool(diskManager, logManager, poolSize)

	if !isNew {
		runner := recovery.NewRunner(pool, diskManager, logManager)
		redone, err := runner.Run()
		if err != nil {
			return fmt.Errorf("recovering: %w", err)
		}
		log.Printf("shelfdb: recovered %d log records\n", redone)
	}

	if !isNew {
		// A real deployment would look its header page id up in a catalog. This demo has none, so a
		// restart only exercises recovery; it does not repeat the insert-and-lookup walkthrough below.
		log.Println("shelfdb: reopened an existing database, nothing further to demonstrate")
		return nil
	}

	txnManager := concurrency.NewTxnManager(pool, logManager)

	index, err := hashindex.NewHashTable(pool, 128)
	if err != nil {
		return fmt.Errorf("creating hash index: %w", err)
	}
	log.Printf("shelfdb: created hash index at header page %d\n", index.HeaderPageId())

	txn := txnManager.Begin()
	pageId, err := txnManager.NewPage(txn, storage.InvalidPageID)
	if err != nil {
		return fmt.Errorf("allocating page: %w", err)
	}

	rid := storage.RID{PageID: pageId, SlotNum: 0}
	tuple := storage.NewTuple([]byte("hello, shelfdb"))
	if err := txnManager.Insert(txn, rid, tuple); err != nil {
		return fmt.Errorf("inserting tuple: %w", err)
	}

	inserted, err := index.Insert(txn, []byte("greeting"), rid)
	if err != nil && !errors.Is(err, hashindex.ErrCapacityExceeded) {
		return fmt.Errorf("indexing tuple: %w", err)
	}
	log.Printf("shelfdb: inserted into index: %v\n", inserted)

	if err := txnManager.Commit(txn); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	if err := logManager.Flush(); err != nil {
		return fmt.Errorf("flushing log: %w", err)
	}
	pool.FlushAllPages()

	matches, err := index.GetValue(txn, []byte("greeting"))
	if err != nil {
		return fmt.Errorf("looking up index: %w", err)
	}
	log.Printf("shelfdb: index lookup returned %d match(es)\n", len(matches))
	return nil
}

// diskManagerLogWriter adapts disk.IDiskManager's WriteLog to the io.Writer the log manager's group
// writer expects.
type diskManagerLogWriter struct {
	d disk.IDiskManager
}

func (w diskManagerLogWriter) Write(p []byte) (int, error) {
	if err := w.d.WriteLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
