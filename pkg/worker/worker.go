package worker

import (
	"errors"
	"sync"

	"github.com/nimasrn/call-billing/pkg/logger"
)

var ErrWorkersTerminated = errors.New("workers terminated")

type WorkerHandler = func(workerIndex int, job interface{})

// WorkerManager fans jobs from a single channel out to a fixed pool of
// goroutines. Start blocks until Exit is called.
type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	quit           chan struct{}
	quitOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager builds a pool of numberOfWorkers goroutines reading from
// jobChannel. A nil jobChannel is replaced by a buffered channel of bufferSize.
// Exit stops the workers but never closes jobChannel, since the caller may
// share it with other producers.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}

	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) Size() int {
	return w.numberOfWorker
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue publishes a job. It returns false once the pool has exited.
func (w *WorkerManager) Enqueue(val interface{}) bool {
	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.jobChannel <- val:
		return true
	case <-w.quit:
		return false
	}
}

// Start runs the workers and blocks until Exit is called.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()

	return ErrWorkersTerminated
}

// Exit stops every worker after its current job.
func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager shutting down", "workers", w.numberOfWorker, "unread", w.GetUnreadCount())
		close(w.quit)
	})
}
