package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// Worker drains queued batches one at a time, so a process never runs more
// than one browser.
type Worker struct {
	svc   *Service
	queue chan []string
	wg    sync.WaitGroup
	once  sync.Once
}

func NewWorker(svc *Service, size int) *Worker {
	if size < 1 {
		size = 1
	}
	return &Worker{svc: svc, queue: make(chan []string, size)}
}

// Enqueue schedules ids without blocking. A full queue is a CONFLICT.
func (w *Worker) Enqueue(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	select {
	case w.queue <- ids:
		return nil
	default:
		return cdpcontrol.NewError(cdpcontrol.CodeConflict, "capture queue is full", nil)
	}
}

// Start consumes the queue until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		w.wg.Add(1)
		go w.loop(ctx)
	})
}

// Wait blocks until the loop has exited.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ids := <-w.queue:
			res, err := w.svc.Execute(ctx, ids)
			if err != nil {
				slog.Error("queued batch failed", "error", err)
				continue
			}
			slog.Info("queued batch finished",
				"completed", len(res.Completed),
				"failed", len(res.Failed),
				"skipped", len(res.Skipped))
		}
	}
}
