package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"refundflow/refund"
)

func handleLatest(svc RefundReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		correlationID := c.GetString(ctxCorrelationID)

		snap, err := svc.GetLatestStatus(c.Request.Context(), userID, correlationID)
		if err != nil {
			log.Printf("refund_latest_failed userId=%s correlationId=%s err=%v", userID, correlationID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "authoritative refund source unavailable"})
			return
		}

		log.Printf("refund_latest_served userId=%s taxYear=%d status=%s", userID, snap.TaxYear, snap.Status)
		c.JSON(http.StatusOK, snap)
	}
}

type simulateRequest struct {
	TaxYear        int     `json:"tax_year" binding:"required"`
	Status         string  `json:"status" binding:"required"`
	ExpectedAmount float64 `json:"expected_amount"`
	TrackingID     string  `json:"tracking_id"`
}

// handleSimulate seeds the mock authoritative source for the calling user and
// drops the cached snapshot so the next read reconciles against it.
func handleSimulate(sim Simulator, cache SnapshotCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)

		var req simulateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		status := refund.Status(req.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown refund status"})
			return
		}

		sim.Upsert(userID, refund.IrsResult{
			TaxYear:        req.TaxYear,
			Status:         status,
			ExpectedAmount: req.ExpectedAmount,
			TrackingID:     req.TrackingID,
		})

		if err := cache.Delete(c.Request.Context(), refund.CacheKey(userID)); err != nil {
			log.Printf("refund_simulate_cache_invalidate_failed userId=%s err=%v", userID, err)
		}

		log.Printf("refund_simulated userId=%s taxYear=%d status=%s", userID, req.TaxYear, status)
		c.Status(http.StatusNoContent)
	}
}
