package streams

import (
	"context"
	"log/slog"
	"time"
)

// DeliveryMarker records receipts against stored digests.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, deliveryID string, deliveredAt time.Time, deliveryErr string) error
}

// HandleReceipt returns a handler that records each receipt.
func HandleReceipt(marker DeliveryMarker, logger *slog.Logger) func(context.Context, DigestReceipt) error {
	return func(ctx context.Context, r DigestReceipt) error {
		at := r.DeliveredAt
		if at.IsZero() {
			at = time.Now()
		}

		deliveryErr := ""
		if r.Status == ReceiptFailed {
			deliveryErr = r.Error
			if deliveryErr == "" {
				deliveryErr = "delivery failed"
			}
		}

		if err := marker.MarkDelivered(ctx, r.DeliveryID, at, deliveryErr); err != nil {
			return err
		}

		if deliveryErr != "" {
			logger.Warn("Digest delivery failed", "delivery_id", r.DeliveryID, "error", deliveryErr)
		} else {
			logger.Info("Digest delivered", "delivery_id", r.DeliveryID)
		}
		return nil
	}
}
