package memory

import (
	"context"
	"log"
	"sync"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

const (
	defaultIndexWorkers = 2
	defaultQueueSize    = 256
)

// indexer embeds and stores messages off the response path. Work is
// dispatched to a bounded queue drained by a small worker pool; failures are
// logged and dropped because a missed memory must never surface as a
// conversation error.
type indexer struct {
	index   storage.VectorIndex
	queue   chan types.MemoryRecord
	workers int

	// ctx is the pool's own lifecycle context, deliberately detached from
	// any request context: a cancelled turn must not cancel its indexing.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newIndexer(index storage.VectorIndex, workers, queueSize int) *indexer {
	if workers <= 0 {
		workers = defaultIndexWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &indexer{
		index:   index,
		queue:   make(chan types.MemoryRecord, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// start launches the worker pool.
func (ix *indexer) start() {
	for i := 0; i < ix.workers; i++ {
		ix.wg.Add(1)
		go ix.worker()
	}
}

func (ix *indexer) worker() {
	defer ix.wg.Done()
	for {
		select {
		case <-ix.ctx.Done():
			return
		case rec, ok := <-ix.queue:
			if !ok {
				return
			}
			if err := ix.index.Add(ix.ctx, &rec); err != nil {
				log.Printf("ERROR: indexer: failed to index message %s: %v", rec.MessageID, err)
			}
		}
	}
}

// enqueue hands a record to the pool without blocking the caller. When the
// queue is full the record is dropped with a warning; backpressure here
// would put indexing latency on the response path.
func (ix *indexer) enqueue(rec types.MemoryRecord) {
	select {
	case ix.queue <- rec:
	default:
		log.Printf("WARNING: indexer: queue full, dropping message %s", rec.MessageID)
	}
}

// shutdown stops accepting work and drains the queue until done or ctx
// expires.
func (ix *indexer) shutdown(ctx context.Context) error {
	close(ix.queue)

	done := make(chan struct{})
	go func() {
		ix.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ix.cancel()
		return nil
	case <-ctx.Done():
		ix.cancel()
		return ctx.Err()
	}
}
