package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/tokenledger"
)

func (s *Server) stripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxWebhookBody+1))
	if err != nil {
		s.logger.Warn("stripe webhook read failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if len(body) > MaxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	ev, err := s.verifier.Parse(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("stripe webhook rejected", "error", err)
		msg := "invalid payload"
		if errors.Is(err, tokenledger.ErrWebhookSignature) {
			msg = "signature verification failed"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	err = s.syncer.Handle(c.Request.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, tokenledger.ErrUnresolvedUser):
		// Acknowledged without applying.
	case tokenledger.IsClientError(err):
		s.logger.Warn("stripe webhook not applied", "event_id", ev.ID, "event_type", ev.Type, "error", err)
	default:
		s.logger.Error("stripe webhook failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
