package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes bounds a delivery body.
const MaxBodyBytes = 5 << 20

// Handler serves POST /webhooks/github.
func Handler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}

		event := c.GetHeader("X-GitHub-Event")
		delivery := c.GetHeader("X-GitHub-Delivery")

		res, err := svc.Handle(c.Request.Context(), event, body, c.GetHeader("X-Hub-Signature-256"))
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				svc.logger.Error("Webhook handling failed", "event", event, "delivery", delivery, "error", err)
			} else {
				svc.logger.Warn("Webhook rejected", "event", event, "delivery", delivery, "status", status, "error", err)
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{"status": res.Outcome}
		if len(res.UpdateIDs) > 0 {
			resp["update_ids"] = res.UpdateIDs
		}
		c.JSON(res.Status, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
