package sandbox

import (
	"context"
	"log/slog"
	"sync"
)

type callbackJob struct {
	PaymentID     string
	TransactionID string
	Status        string
	FailureReason string
}

type worker struct {
	id         int
	workerPool chan chan callbackJob
	jobChannel chan callbackJob
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan callbackJob, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan callbackJob),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, process func(callbackJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.workerPool <- w.jobChannel:
			case <-ctx.Done():
				w.logger.Debug("sandbox worker shutting down", "worker_id", w.id)
				return
			}

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("sandbox worker processing callback", "worker_id", w.id, "transaction_id", job.TransactionID)
				process(job)
			case <-ctx.Done():
				w.logger.Debug("sandbox worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

func (g *Gateway) startWorkerPool() {
	g.once.Do(func() {
		for i := 0; i < g.maxWorkers; i++ {
			newWorker(i, g.workerPool, g.logger).start(g.ctx, &g.wg, g.deliverCallback)
		}

		g.wg.Add(1)
		go g.dispatch()

		g.logger.Info("sandbox gateway worker pool started",
			"max_workers", g.maxWorkers,
			"queue_size", cap(g.jobQueue))
	})
}

func (g *Gateway) dispatch() {
	defer g.wg.Done()

	for {
		select {
		case job := <-g.jobQueue:
			select {
			case jobChannel := <-g.workerPool:
				select {
				case jobChannel <- job:
				case <-g.ctx.Done():
					return
				}
			case <-g.ctx.Done():
				return
			}
		case <-g.ctx.Done():
			g.logger.Debug("sandbox dispatcher shutting down")
			return
		}
	}
}
