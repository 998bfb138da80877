package v1

import (
	"net/http"

	"github.com/flexprice/usagemeter/internal/api/dto"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/service"
	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

func NewUsageHandler(service service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{service: service, log: log}
}

// @Summary Aggregate usage
// @Description Compute the usage of one metric for a subscription over a billing window
// @Tags Usage
// @Accept json
// @Produce json
// @Param request body dto.AggregateUsageRequest true "Usage request"
// @Success 200 {object} dto.AggregateUsageResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 503 {object} ierr.ErrorResponse
// @Router /usage/aggregate [post]
func (h *UsageHandler) Aggregate(c *gin.Context) {
	var req dto.AggregateUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	usageReq, err := req.ToUsageRequest(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	result, err := h.service.Aggregate(c.Request.Context(), usageReq)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Errorw("failed to aggregate usage",
			"subscription_id", req.SubscriptionID,
			"code", req.Code,
			"error", err,
		)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAggregateUsageResponse(usageReq, result))
}

// @Summary Aggregate usage for many charges
// @Tags Usage
// @Accept json
// @Produce json
// @Param request body dto.AggregateUsageBatchRequest true "Usage requests"
// @Success 200 {object} dto.AggregateUsageBatchResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/aggregate/batch [post]
func (h *UsageHandler) AggregateBatch(c *gin.Context) {
	var req dto.AggregateUsageBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	usageReqs := make([]*usage.Request, 0, len(req.Requests))
	for _, item := range req.Requests {
		usageReq, err := item.ToUsageRequest(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		usageReqs = append(usageReqs, usageReq)
	}

	results, err := h.service.AggregateBatch(c.Request.Context(), usageReqs)
	if err != nil {
		c.Error(err)
		return
	}

	resp := dto.AggregateUsageBatchResponse{Items: make([]*dto.AggregateUsageResponse, len(results))}
	for i, result := range results {
		resp.Items[i] = dto.NewAggregateUsageResponse(usageReqs[i], result)
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Materialize a partial aggregate
// @Description Snapshot the usage before cutoff into the pre-aggregated store
// @Tags Usage
// @Accept json
// @Produce json
// @Param request body dto.MaterializePartialRequest true "Partial request"
// @Success 201 {object} dto.PartialAggregateResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/partials [post]
func (h *UsageHandler) MaterializePartial(c *gin.Context) {
	var req dto.MaterializePartialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	usageReq, err := req.ToUsageRequest(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	partial, err := h.service.MaterializePartial(c.Request.Context(), usageReq, req.Cutoff)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewPartialAggregateResponse(partial))
}
