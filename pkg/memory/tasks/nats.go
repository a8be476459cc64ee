package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "recollect.tasks."

// NATSBackend publishes tasks to NATS, one subject per task type
// (recollect.tasks.<type>).
type NATSBackend struct {
	nc     *nats.Conn
	logger *log.Logger
}

func NewNATSBackend(nc *nats.Conn, logger *log.Logger) (*NATSBackend, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &NATSBackend{nc: nc, logger: logger}, nil
}

func (b *NATSBackend) SubmitTask(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	subject := subjectPrefix + task.Type
	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing task to %s: %w", subject, err)
	}
	b.logger.Debug("task submitted", "subject", subject, "bank_id", task.BankID)
	return nil
}
