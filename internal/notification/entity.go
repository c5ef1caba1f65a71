package notification

import "time"

// DeliveryStatus tracks one notification attempt chain. Exhausting
// retries is terminal for the record, never for the approval it
// announces.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// DefaultMaxAttempts bounds delivery retries per record.
const DefaultMaxAttempts = 3

// Record is the audit trail of one notification to one recipient over
// one channel.
type Record struct {
	ID         string         `yaml:"id" json:"id"`
	ApprovalID string         `yaml:"approval_id,omitempty" json:"approvalId,omitempty"`
	ThreadID   string         `yaml:"thread_id,omitempty" json:"threadId,omitempty"`
	Kind       string         `yaml:"kind,omitempty" json:"kind,omitempty"`
	Channel    string         `yaml:"channel" json:"channel"`
	Recipient  string         `yaml:"recipient" json:"recipient"`
	Status     DeliveryStatus `yaml:"status" json:"status"`
	Attempts   int            `yaml:"attempts" json:"attempts"`
	LastError  string         `yaml:"last_error,omitempty" json:"lastError,omitempty"`
	CreatedAt  time.Time      `yaml:"created_at" json:"createdAt"`
	UpdatedAt  time.Time      `yaml:"updated_at" json:"updatedAt"`
}

// Subscription is a web-push endpoint registered by a user.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	UserID    string    `yaml:"user_id,omitempty" json:"userId,omitempty"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dhKey"`
	AuthKey   string    `yaml:"auth_key" json:"authKey"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}

// Payload is what a channel delivers.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}
