package gmail

import (
	"context"
	"fmt"

	"github.com/goliatone/go-webhooks/core"
)

// MessageEvent is the payload of every fine-grained Gmail event.
type MessageEvent struct {
	EmailAddress string   `json:"email_address"`
	HistoryID    string   `json:"history_id"`
	MessageID    string   `json:"message_id"`
	ThreadID     string   `json:"thread_id"`
	LabelIDs     []string `json:"label_ids,omitempty"`
}

// ToEvents fans one history record out in the order Gmail lists the
// change groups: additions, label changes, deletions.
func ToEvents(_ context.Context, tenantID string, item core.Delta) ([]core.DomainEvent, error) {
	record, ok := item.Payload.(HistoryRecord)
	if !ok {
		if ptr, isPtr := item.Payload.(*HistoryRecord); isPtr && ptr != nil {
			record = *ptr
		} else {
			return nil, fmt.Errorf("providers/gmail: unexpected delta payload %T", item.Payload)
		}
	}

	out := make([]core.DomainEvent, 0,
		len(record.MessagesAdded)+len(record.LabelsAdded)+len(record.LabelsRemoved)+len(record.MessagesDeleted))
	appendEvent := func(eventType string, message MessageRef, labels []string) {
		out = append(out, core.DomainEvent{
			Type:     eventType,
			TenantID: tenantID,
			Payload: MessageEvent{
				EmailAddress: tenantID,
				HistoryID:    record.ID,
				MessageID:    message.ID,
				ThreadID:     message.ThreadID,
				LabelIDs:     append([]string(nil), labels...),
			},
		})
	}
	for _, change := range record.MessagesAdded {
		appendEvent(EventMessageReceived, change.Message, change.Message.LabelIDs)
	}
	for _, change := range record.LabelsAdded {
		appendEvent(EventLabelAdded, change.Message, change.LabelIDs)
	}
	for _, change := range record.LabelsRemoved {
		appendEvent(EventLabelRemoved, change.Message, change.LabelIDs)
	}
	for _, change := range record.MessagesDeleted {
		appendEvent(EventMessageDeleted, change.Message, nil)
	}
	return out, nil
}
