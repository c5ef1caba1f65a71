package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/threadweave/threadweave/internal/eventbus"
)

// retryBackoff is the pause between delivery attempts for one record.
const retryBackoff = 2 * time.Second

// Dispatcher turns approval events into notifications. Each delivery is
// tracked as a Record with a bounded retry count; a record that
// exhausts its retries fails terminally without affecting the approval.
type Dispatcher struct {
	bus     *eventbus.Bus
	records RecordRepository
	senders []Sender
}

func NewDispatcher(bus *eventbus.Bus, records RecordRepository, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		records: records,
		senders: senders,
	}
}

// Start subscribes to the event bus and dispatches until ctx is
// cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.bus.Subscribe(256)
	defer d.bus.Unsubscribe(subID)

	slog.Info("notification dispatcher started", "channels", len(d.senders))
	for {
		select {
		case <-ctx.Done():
			slog.Info("notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case eventbus.EventApprovalRequested:
				d.dispatch(ctx, event, "", &Payload{
					Title: "Approval required",
					Body:  event.Metadata["prompt"],
					Tag:   event.Metadata["approval_id"],
				})
			case eventbus.EventApprovalEscalated:
				d.dispatch(ctx, event, event.Metadata["escalation_user"], &Payload{
					Title: fmt.Sprintf("Escalated approval (%s risk)", event.Metadata["risk_level"]),
					Body:  event.Metadata["prompt"],
					Tag:   event.Metadata["approval_id"],
				})
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event *eventbus.Event, recipient string, payload *Payload) {
	approvalID := event.Metadata["approval_id"]
	prior, err := d.records.ListForApproval(ctx, approvalID)
	if err != nil {
		slog.Warn("failed to list notification records", "approval_id", approvalID, "error", err)
	}

	for _, sender := range d.senders {
		if alreadySent(prior, string(event.Type), sender.Channel()) {
			continue
		}
		rec := &Record{
			ID:         ulid.Make().String(),
			ApprovalID: approvalID,
			ThreadID:   event.ThreadID,
			Kind:       string(event.Type),
			Channel:    sender.Channel(),
			Recipient:  recipient,
			Status:     DeliveryPending,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := d.records.Create(ctx, rec); err != nil {
			slog.Error("failed to create notification record", "error", err)
			continue
		}
		d.deliver(ctx, sender, rec, payload)
	}
}

// alreadySent reports whether this event already went out on the
// channel, so a redelivered bus event does not notify twice.
func alreadySent(prior []*Record, kind, channel string) bool {
	for _, r := range prior {
		if r.Kind == kind && r.Channel == channel && r.Status == DeliverySent {
			return true
		}
	}
	return false
}

// deliver attempts delivery with bounded retries, persisting the record
// after every attempt.
func (d *Dispatcher) deliver(ctx context.Context, sender Sender, rec *Record, payload *Payload) {
	for rec.Attempts < DefaultMaxAttempts {
		rec.Attempts++
		err := sender.Send(ctx, rec.Recipient, payload)
		rec.UpdatedAt = time.Now()
		if err == nil {
			rec.Status = DeliverySent
			rec.LastError = ""
			d.persist(ctx, rec)
			return
		}
		rec.LastError = err.Error()
		rec.Status = DeliveryPending
		d.persist(ctx, rec)

		if rec.Attempts >= DefaultMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryBackoff):
		}
	}

	rec.Status = DeliveryFailed
	rec.UpdatedAt = time.Now()
	d.persist(ctx, rec)
	slog.Warn("notification delivery failed terminally",
		"record_id", rec.ID, "channel", rec.Channel, "attempts", rec.Attempts, "error", rec.LastError)
}

func (d *Dispatcher) persist(ctx context.Context, rec *Record) {
	if err := d.records.Update(ctx, rec); err != nil {
		slog.Error("failed to update notification record", "record_id", rec.ID, "error", err)
	}
}
