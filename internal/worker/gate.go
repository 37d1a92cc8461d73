package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
)

// checkDedup runs the dedup gate for a fetched job. Under auto-ack the message
// is already gone from the queue, so an oracle outage holds the job here and
// retries with backoff instead of dropping it. Under manual ack the error is
// returned and the message goes back to the queue.
func (w *Worker) checkDedup(ctx context.Context, job *domain.Job) (bool, error) {
	retry := newBackoff(w.reconnectInterval, w.maxPollInterval)

	for {
		processed, err := w.alreadyProcessed(ctx, job)
		if err == nil || !w.autoAck {
			return processed, err
		}

		w.stats.dedupRetries.Add(1)
		delay := retry.next()
		w.logger.Warn("Dedup check failed, holding job until the database recovers",
			slog.String("git_url", job.GitURL),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		sleep(ctx, delay)
		if ctx.Err() != nil {
			return false, domain.NewRetryableError(fmt.Errorf("shutdown while waiting for dedup check: %w", err))
		}
	}
}

// alreadyProcessed asks the dedup oracle whether the job's repository has a
// record. Oracle failures are retryable: the job is neither run nor dropped here.
func (w *Worker) alreadyProcessed(ctx context.Context, job *domain.Job) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, w.dedupTimeout)
	defer cancel()

	exists, err := w.oracle.ProjectExists(checkCtx, job.GitURL)
	if err != nil {
		return false, domain.NewRetryableError(fmt.Errorf("failed to check dedup record: %w", err))
	}

	return exists, nil
}
