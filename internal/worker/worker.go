// Package worker adapts the coordinator to AWS Lambda S3 notifications.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/roach88/labelcache/internal/coordinator"
	"github.com/roach88/labelcache/internal/event"
	"github.com/roach88/labelcache/internal/model"
)

// Processor runs a batch of upload events. *coordinator.Coordinator implements it.
type Processor interface {
	ProcessBatch(ctx context.Context, events []model.UploadEvent) []coordinator.Report
}

// BatchError is returned when at least one record must be redelivered or
// escalated. Returning it makes Lambda retry the whole notification, which
// is safe because processing is idempotent per fingerprint.
type BatchError struct {
	Action coordinator.Action
	Failed []coordinator.Summary
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Locator, f.Error))
	}
	return fmt.Sprintf("%s: %d record(s) failed: %s", e.Action, len(e.Failed), strings.Join(parts, "; "))
}

// Handler handles S3 notifications.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(p Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{processor: p, logger: logger.With("component", "worker")}
}

// Handle processes every object-created record in n.
//
// Records that cannot be parsed are logged and skipped: redelivering them
// cannot succeed. The rest of the notification is still processed.
func (h *Handler) Handle(ctx context.Context, n events.S3Event) error {
	batch := event.FromS3Event(n)
	batch.LogSkipped(h.logger)
	evs := batch.Events
	if len(evs) == 0 {
		h.logger.Debug("notification carries no object-created records", "records", len(n.Records))
		return nil
	}

	reports := h.processor.ProcessBatch(ctx, evs)
	action := coordinator.Overall(reports)
	h.logger.Info("notification processed", "records", len(evs), "action", action.String())
	if action < coordinator.Retry {
		return nil
	}

	berr := &BatchError{Action: action}
	for _, r := range reports {
		if r.Action >= coordinator.Retry {
			berr.Failed = append(berr.Failed, r.Summarize())
		}
	}
	return berr
}
