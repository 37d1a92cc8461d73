package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// handleDelivery decodes one message, gates it and runs it. It is the single
// place where every per-job failure is logged and turned into an outcome.
func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) domain.Outcome {
	w.logger.Info("Got message from queue",
		slog.String("body", string(delivery.Body)),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)

	job, err := domain.ParseJob(delivery.Body)
	if err != nil {
		w.logger.Error("Dropping malformed message",
			slog.String("body", string(delivery.Body)),
			slog.Any("error", err),
		)
		w.settle(delivery, domain.OutcomeMalformed, err)
		w.stats.record(domain.OutcomeMalformed)
		return domain.OutcomeMalformed
	}

	logger := w.logger.With(
		slog.String("git_url", job.GitURL),
		slog.String("dataset", job.Dataset),
	)

	start := time.Now()
	outcome, err := w.dispatch(ctx, job)
	if outcome == domain.OutcomeDeferred && w.autoAck {
		outcome = domain.OutcomeLost
	}

	switch outcome {
	case domain.OutcomeSkipped:
		logger.Info("Project already in the database, skipping")
	case domain.OutcomeProcessed:
		logger.Info("Job completed successfully",
			slog.Duration("duration", time.Since(start)),
		)
	case domain.OutcomeFailed:
		logger.Error("Error while processing job",
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
	case domain.OutcomeDeferred:
		logger.Warn("Job deferred to a later cycle",
			slog.Any("error", err),
		)
	case domain.OutcomeLost:
		logger.Error("Job lost, its message was already acknowledged",
			slog.Any("error", err),
		)
	}

	w.settle(delivery, outcome, err)
	w.stats.record(outcome)
	return outcome
}

// dispatch runs the dedup gate and, for new projects, the pipeline
func (w *Worker) dispatch(ctx context.Context, job *domain.Job) (domain.Outcome, error) {
	processed, err := w.checkDedup(ctx, job)
	if err != nil {
		return domain.OutcomeDeferred, err
	}
	if processed {
		return domain.OutcomeSkipped, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		// Interrupted by shutdown rather than failed on its own.
		if ctx.Err() != nil {
			return domain.OutcomeDeferred, domain.NewRetryableError(errors.Join(ctx.Err(), err))
		}
		return domain.OutcomeFailed, err
	}

	return domain.OutcomeProcessed, nil
}
