package harvest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/internal"
	"github.com/tmshv/rfpharvest/store"
)

// Worker runs the aggregator and saves every batch to Sink.
type Worker struct {
	Aggregator *Aggregator
	Sink       store.Sink
	Log        *zap.Logger
	Interval   time.Duration
}

// RunOnce harvests and persists a single batch. The batch is returned even
// when saving fails.
func (w *Worker) RunOnce(ctx context.Context) (*internal.Batch, error) {
	batch := w.Aggregator.Run(ctx)
	if err := w.Sink.Save(ctx, batch); err != nil {
		return batch, err
	}
	return batch, nil
}

// Run harvests immediately and then every Interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}

	w.runLogged(ctx, log)
	if w.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Harvest loop stopped")
			return
		case <-ticker.C:
			w.runLogged(ctx, log)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context, log *zap.Logger) {
	batch, err := w.RunOnce(ctx)
	if err != nil {
		log.Error("Failed to save batch", zap.String("run_id", batch.RunID), zap.Error(err))
		return
	}
	log.Info("Batch saved", zap.String("run_id", batch.RunID), zap.Int("records", batch.Len()))
}
