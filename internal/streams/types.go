package streams

import "time"

// Stream name constants
const (
	StreamDigests  = "notify:digests"
	StreamReceipts = "notify:receipts"
)

// GroupWorkers is the consumer group reading receipts.
const GroupWorkers = "docpilot-workers"

// Schema version constant
const (
	SchemaVersionV1 = "v1"
)

// Receipt statuses
const (
	ReceiptDelivered = "delivered"
	ReceiptFailed    = "failed"
)

// DigestReceipt reports the outcome of delivering one published digest.
// DeliveryID is the stream id the digest was published under.
type DigestReceipt struct {
	DeliveryID  string    `json:"delivery_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}
