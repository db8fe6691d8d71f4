package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/rental-payout-service/internal/gateway"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/richardliu001/rental-payout-service/internal/service"
	"go.uber.org/zap"
)

// PayoutAPI is the part of service.PayoutService the admin API drives.
type PayoutAPI interface {
	ProcessPayoutsForRunDate(ctx context.Context, runDate time.Time) (service.RunSummary, error)
	GetPayout(ctx context.Context, id string) (*model.Payout, error)
	ListPayouts(ctx context.Context, f repo.PayoutFilter) ([]model.Payout, error)
	SyncPayoutStatus(ctx context.Context, id string) (*model.Payout, error)
	SubmitPendingPayout(ctx context.Context, id string) (*model.Payout, error)
	GetDestination(ctx context.Context, locationID string) (*model.PayoutDestination, error)
	BillingLocation() *time.Location
}

func RegisterHandlers(r *gin.Engine, svc PayoutAPI, log *zap.SugaredLogger) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1 := r.Group("/v1")
	{
		v1.POST("/payout-runs", runHandler(svc, log))
		v1.GET("/payouts", listHandler(svc))
		v1.GET("/payouts/:id", getHandler(svc))
		v1.POST("/payouts/:id/sync", syncHandler(svc))
		v1.POST("/payouts/:id/submit", submitHandler(svc))
		v1.GET("/destinations/:location_id", destinationHandler(svc))
	}
}

type runReq struct {
	// RunDate is YYYY-MM-DD in the billing timezone; the run pays the month
	// before it. Empty means today.
	RunDate string `json:"run_date"`
}

func runHandler(svc PayoutAPI, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		loc := svc.BillingLocation()
		runDate := time.Now().In(loc)
		if req.RunDate != "" {
			d, err := time.ParseInLocation("2006-01-02", req.RunDate, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_date, want YYYY-MM-DD"})
				return
			}
			runDate = d
		}
		sum, err := svc.ProcessPayoutsForRunDate(c.Request.Context(), runDate)
		if err != nil {
			log.Errorw("payout run request failed", "run_date", req.RunDate, "error", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

func listHandler(svc PayoutAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f := repo.PayoutFilter{
			LocationID: c.Query("location_id"),
			Status:     model.PayoutStatus(c.Query("status")),
			Limit:      limit,
		}
		switch f.Status {
		case "", model.PayoutStatusPending, model.PayoutStatusProcessing, model.PayoutStatusCompleted, model.PayoutStatusFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		ps, err := svc.ListPayouts(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ps)
	}
}

func getHandler(svc PayoutAPI) gin.HandlerFunc {
	return payoutHandler(svc.GetPayout)
}

func syncHandler(svc PayoutAPI) gin.HandlerFunc {
	return payoutHandler(svc.SyncPayoutStatus)
}

func submitHandler(svc PayoutAPI) gin.HandlerFunc {
	return payoutHandler(svc.SubmitPendingPayout)
}

func destinationHandler(svc PayoutAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.GetDestination(c.Request.Context(), c.Param("location_id"))
		if errors.Is(err, service.ErrDestinationNotConfigured) {
			_ = c.Error(err)
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func payoutHandler(fn func(context.Context, string) (*model.Payout, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := fn(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var ie *gateway.IntegrationError
	switch {
	case errors.Is(err, service.ErrPayoutNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRunInProgress), errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrDestinationNotConfigured), errors.Is(err, service.ErrDestinationInactive),
		errors.Is(err, gateway.ErrPayoutsDisabled), errors.Is(err, gateway.ErrBelowMinimum),
		errors.Is(err, gateway.ErrDestinationInactive), errors.Is(err, gateway.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.As(err, &ie), errors.Is(err, service.ErrFetchFailure), errors.Is(err, service.ErrMissingGatewayID):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
