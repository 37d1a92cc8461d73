package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
)

// processJob runs the pipeline for one job under the job timeout. Any error
// or panic comes back as a *domain.PipelineError; nothing escapes to the loop.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from pipeline panic",
				slog.String("git_url", job.GitURL),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			err = &domain.PipelineError{GitURL: job.GitURL, Err: err}
		}
	}()

	w.logger.Info("Processing job",
		slog.String("git_url", job.GitURL),
		slog.String("dataset", job.Dataset),
		slog.Duration("timeout", w.jobTimeout),
	)

	if err := w.pipeline.Process(jobCtx, *job, w.options); err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("job exceeded timeout of %s: %w", w.jobTimeout, err)
		}
		return err
	}

	return nil
}
