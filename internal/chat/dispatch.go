package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalDispatcher runs published jobs in this process. It stands in for the
// queue when no broker is configured.
type LocalDispatcher struct {
	svc     *Service
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewLocalDispatcher(svc *Service, timeout time.Duration, log *zap.Logger) *LocalDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalDispatcher{svc: svc, timeout: timeout, log: log}
}

func (d *LocalDispatcher) PublishJob(ctx context.Context, jobID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		start := time.Now()
		if err := d.svc.ProcessJob(jctx, jobID); err != nil {
			d.log.Warn("job failed", zap.String("job_id", jobID), zap.Duration("cost", time.Since(start)), zap.Error(err))
			return
		}
		d.log.Info("job done", zap.String("job_id", jobID), zap.Duration("cost", time.Since(start)))
	}()
	return nil
}

// Wait blocks until every published job has finished.
func (d *LocalDispatcher) Wait() { d.wg.Wait() }
