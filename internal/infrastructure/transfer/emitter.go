// Package transfer delivers inter-warehouse transfer instructions: an outbox
// emitter on the write side and a RabbitMQ relay handler on the publish side.
package transfer

import (
	"context"

	"wavepick/internal/core/id"
	"wavepick/internal/domain/shortage"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	aggregateType = "TransferInstruction"
	eventType     = "TransferInstructionIssued"
)

// OutboxEmitter implements shortage.TransferEmitter by enqueueing the
// instruction in the transactional outbox. The instruction commits or rolls
// back together with the picking state that produced it.
type OutboxEmitter struct {
	publisher *postgres.OutboxPublisher
}

// NewOutboxEmitter creates an outbox-backed transfer emitter.
func NewOutboxEmitter(publisher *postgres.OutboxPublisher) *OutboxEmitter {
	return &OutboxEmitter{publisher: publisher}
}

// EmitTransfer writes the instruction to the outbox inside the current
// transaction. RequestID is the allocation id, so it doubles as the
// aggregate id for consumer-side tracing.
func (e *OutboxEmitter) EmitTransfer(ctx context.Context, instruction shortage.TransferInstruction) error {
	aggregateID, err := id.Parse(instruction.RequestID)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, postgres.DomainEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       instruction,
	})
}
