package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vectorhive/embedding-be/internal/pipeline/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			err := w.processJob(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
				)
				continue
			}

			switch judgeDelivery(err) {
			case ackDelivery:
				if err != nil {
					// Job-level fault already re-enqueued with backoff;
					// this delivery is spent.
					w.logger.Info("Delivery acked after scheduling retry",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
					)
				}
				if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
						slog.Any("error", ackErr),
					)
				}

			case dropDelivery:
				w.logger.Warn("Dropping delivery to dead-letter queue",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
				if nackErr := channel.Nack(msg.DeliveryTag, false, false); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
						slog.Any("error", nackErr),
					)
				}

			case requeueDelivery:
				w.logger.Error("Requeuing delivery after transient failure",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
				if nackErr := channel.Nack(msg.DeliveryTag, false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
						slog.Any("error", nackErr),
					)
				}
			}
		}
	}
}

type deliveryVerdict int

const (
	ackDelivery deliveryVerdict = iota
	dropDelivery
	requeueDelivery
)

// judgeDelivery maps a processJob result onto the broker acknowledgement.
//
//   - nil: the job completed, ack.
//   - RetryableError: the queue already parked a delayed retry copy, so the
//     original delivery is also acked.
//   - claim races, bad payloads, exhausted attempts: the delivery can never
//     be processed, nack without requeue so it lands in the dead queue.
//   - anything else is a transient infrastructure error before the lease was
//     taken; requeue for immediate redelivery without burning an attempt.
func judgeDelivery(err error) deliveryVerdict {
	if err == nil {
		return ackDelivery
	}

	var retryable *domain.RetryableError
	if errors.As(err, &retryable) {
		return ackDelivery
	}

	if errors.Is(err, domain.ErrJobAlreadyClaimed) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrMaxAttemptsExceeded) {
		return dropDelivery
	}

	return requeueDelivery
}
