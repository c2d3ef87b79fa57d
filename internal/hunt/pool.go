package hunt

import (
	"context"
	"sync"

	"threathunt/internal/query"
)

// job carries the position of its query so results can be reassembled in
// input order whatever order the workers finish in.
type job struct {
	index int
	query query.SearchQuery
}

type result struct {
	index   int
	query   query.SearchQuery
	outcome outcome
}

// workerPool runs jobs on a fixed number of goroutines.
type workerPool struct {
	workers    int
	jobQueue   chan job
	resultChan chan result
	process    func(context.Context, job) result
	wg         sync.WaitGroup
}

func newWorkerPool(workers, queueSize int, process func(context.Context, job) result) *workerPool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{
		workers:    workers,
		jobQueue:   make(chan job, queueSize),
		resultChan: make(chan result, queueSize),
		process:    process,
	}
}

func (wp *workerPool) start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

func (wp *workerPool) submit(j job) {
	wp.jobQueue <- j
}

// close stops accepting jobs, waits for in-flight work and closes results.
func (wp *workerPool) close() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultChan)
}

func (wp *workerPool) results() <-chan result {
	return wp.resultChan
}

func (wp *workerPool) worker(ctx context.Context) {
	defer wp.wg.Done()
	for j := range wp.jobQueue {
		wp.resultChan <- wp.process(ctx, j)
	}
}
