package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// settle acknowledges a delivery according to its outcome. Under auto-ack the
// broker already forgot the message and there is nothing to do.
func (w *Worker) settle(delivery amqp.Delivery, outcome domain.Outcome, cause error) {
	if w.autoAck {
		return
	}

	var err error
	switch outcome {
	case domain.OutcomeMalformed:
		err = delivery.Reject(false)
	case domain.OutcomeDeferred:
		requeue := shouldRequeue(cause)
		err = delivery.Nack(false, requeue)
		if err == nil {
			w.logger.Info("Message NACKed",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.Bool("requeue", requeue),
			)
		}
	default:
		// Pipeline failures are not retried, so they are acked like successes.
		err = delivery.Ack(false)
	}

	if err != nil {
		w.logger.Error("Failed to settle message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err),
		)
	}
}

// shouldRequeue determines if a deferred message goes back on the queue
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrMalformedMessage) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	return errors.Is(err, context.Canceled)
}
