package storage

import (
	"sync"
	"time"

	"github.com/steverahardjo/grimoire/pkg/model"
)

// DiskRequestKind distinguishes read and write requests.
type DiskRequestKind int

const (
	DiskRead DiskRequestKind = iota
	DiskWrite
)

// DiskResult is delivered through a request's completion channel exactly
// once. For reads, Data aliases the request buffer filled with the page
// bytes; for writes, Data is nil.
type DiskResult struct {
	Data []byte
	Err  error
}

// DiskRequest describes one page I/O operation. A request is created by a
// caller, consumed exactly once by the scheduler, and must not be reused
// after its result has been delivered.
type DiskRequest struct {
	Kind   DiskRequestKind
	PageID model.PageID

	// Data is the page buffer: the source for writes, the destination
	// for reads. It must be exactly model.PageSize bytes long and must
	// not be touched by the caller until the result arrives.
	Data []byte

	// Result receives the outcome. The channel is buffered so a worker
	// never blocks on a caller that stopped waiting; an unreceived
	// result is simply dropped.
	Result chan DiskResult
}

// NewDiskRequest creates a request with a ready completion channel.
func NewDiskRequest(kind DiskRequestKind, id model.PageID, data []byte) *DiskRequest {
	return &DiskRequest{
		Kind:   kind,
		PageID: id,
		Data:   data,
		Result: make(chan DiskResult, 1),
	}
}

// DiskSchedulerConfig holds configuration options for the disk scheduler.
type DiskSchedulerConfig struct {
	// MaxInFlight caps the number of simultaneous I/O operations.
	// Zero selects DefaultMaxInFlight.
	MaxInFlight int

	// BatchSize is the most requests one driver pass dispatches.
	// Zero selects DefaultBatchSize.
	BatchSize int

	// WakeInterval bounds how long the driver sleeps when no enqueue
	// notification arrives. Zero selects DefaultWakeInterval.
	WakeInterval time.Duration

	// Logger for scheduler operations.
	Logger model.Logger
}

const (
	// DefaultMaxInFlight is the default bound on concurrent I/O.
	DefaultMaxInFlight = 10

	// DefaultBatchSize is the default dispatch batch size.
	DefaultBatchSize = 64

	// DefaultWakeInterval is the default driver wake interval.
	DefaultWakeInterval = 50 * time.Millisecond
)

// DefaultDiskSchedulerConfig returns a default scheduler configuration.
func DefaultDiskSchedulerConfig() DiskSchedulerConfig {
	return DiskSchedulerConfig{
		MaxInFlight:  DefaultMaxInFlight,
		BatchSize:    DefaultBatchSize,
		WakeInterval: DefaultWakeInterval,
		Logger:       model.DefaultLoggerInstance,
	}
}

// pageChain serializes requests that address the same page. Each request
// waits on the done channel of its predecessor before touching the disk,
// so later writers can never overtake earlier ones.
type pageChain struct {
	tail chan struct{}
	refs int
}

// DiskScheduler queues page I/O requests and drains them with a bounded
// pool of workers. Requests on distinct pages run in parallel up to the
// in-flight cap; requests on the same page complete in submission order.
//
// A background driver parks on an enqueue notification with a bounded
// wake interval, so the queue is drained promptly without busy-polling.
type DiskScheduler struct {
	dm *DiskManager

	mu     sync.Mutex // queue, chains, closed
	queue  []*DiskRequest
	chains map[model.PageID]*pageChain
	closed bool

	notify  chan struct{}
	permits chan struct{}
	done    chan struct{}

	workers  sync.WaitGroup
	driver   sync.WaitGroup
	batch    int
	interval time.Duration
	logger   model.Logger
}

// NewDiskScheduler creates a scheduler in front of the given disk manager
// and starts its background driver.
func NewDiskScheduler(dm *DiskManager, config DiskSchedulerConfig) *DiskScheduler {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.WakeInterval <= 0 {
		config.WakeInterval = DefaultWakeInterval
	}
	if config.Logger == nil {
		config.Logger = model.DefaultLoggerInstance
	}

	s := &DiskScheduler{
		dm:       dm,
		chains:   make(map[model.PageID]*pageChain),
		notify:   make(chan struct{}, 1),
		permits:  make(chan struct{}, config.MaxInFlight),
		done:     make(chan struct{}),
		batch:    config.BatchSize,
		interval: config.WakeInterval,
		logger:   config.Logger,
	}

	s.driver.Add(1)
	go s.run()
	return s
}

// Manager returns the disk manager the scheduler dispatches to.
func (s *DiskScheduler) Manager() *DiskManager { return s.dm }

// Enqueue appends a request to the queue without blocking. Once enqueued
// a request always runs to completion; cancellation is not supported.
// After Close, the request fails immediately with ErrSchedulerClosed.
func (s *DiskScheduler) Enqueue(req *DiskRequest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		req.Result <- DiskResult{Err: model.ErrSchedulerClosed}
		return model.ErrSchedulerClosed
	}
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Schedule dequeues up to maxCount requests and dispatches each to a
// worker. It returns the number of requests dispatched. Workers respect
// the in-flight permit and the per-page ordering chains.
func (s *DiskScheduler) Schedule(maxCount int) int {
	s.mu.Lock()
	n := len(s.queue)
	if n > maxCount {
		n = maxCount
	}
	if n == 0 {
		s.mu.Unlock()
		return 0
	}

	batch := make([]*DiskRequest, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]

	for _, req := range batch {
		chain := s.chains[req.PageID]
		if chain == nil {
			chain = &pageChain{}
			s.chains[req.PageID] = chain
		}
		prev := chain.tail
		turn := make(chan struct{})
		chain.tail = turn
		chain.refs++

		s.workers.Add(1)
		go s.perform(req, prev, turn)
	}
	s.mu.Unlock()

	return n
}

// perform executes one request: wait for the previous request on the same
// page, take an I/O permit, hit the disk manager, deliver the result.
func (s *DiskScheduler) perform(req *DiskRequest, prev, turn chan struct{}) {
	defer s.workers.Done()

	if prev != nil {
		<-prev
	}

	s.permits <- struct{}{}
	var err error
	switch req.Kind {
	case DiskWrite:
		err = s.dm.WritePage(req.PageID, req.Data)
	default:
		err = s.dm.ReadPage(req.PageID, req.Data)
	}
	<-s.permits

	result := DiskResult{Err: err}
	if req.Kind == DiskRead && err == nil {
		result.Data = req.Data
	}
	req.Result <- result
	close(turn)

	if err != nil {
		s.logger.Debug("Disk request for page %d failed: %v", req.PageID, err)
	}

	s.mu.Lock()
	if chain := s.chains[req.PageID]; chain != nil {
		chain.refs--
		if chain.refs == 0 {
			delete(s.chains, req.PageID)
		}
	}
	s.mu.Unlock()
}

// run is the background driver loop. It parks until an enqueue
// notification or the wake interval elapses, then drains the queue.
// Drive-loop problems are logged, never fatal to the loop.
func (s *DiskScheduler) run() {
	defer s.driver.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			for s.Schedule(s.batch) > 0 {
			}
			return
		case <-s.notify:
		case <-ticker.C:
		}

		for s.Schedule(s.batch) > 0 {
		}
	}
}

// Close stops accepting requests, drains everything already enqueued,
// and waits for in-flight workers. Close is idempotent.
func (s *DiskScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.driver.Wait()
	s.workers.Wait()

	s.logger.Info("Disk scheduler closed")
	return nil
}
