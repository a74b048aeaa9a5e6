// Package http provides HTTP handlers for the outbox review API. Operators
// use it to inspect staged events, most importantly the FAILED ones that
// exhausted their delivery retries.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/httputil"
	"github.com/autorepair/eventcore/internal/outbox/domain"
	"github.com/autorepair/eventcore/internal/outbox/http/dto"
	outboxUseCase "github.com/autorepair/eventcore/internal/outbox/usecase"
)

// TenantHeader carries the tenant scope of a request. Every outbox endpoint
// requires it; there is no ambient tenant.
const TenantHeader = "X-Tenant-Id"

// OutboxHandler handles HTTP requests for outbox event review.
type OutboxHandler struct {
	outboxUseCase outboxUseCase.UseCase
	logger        *slog.Logger
}

// NewOutboxHandler creates a new outbox handler.
func NewOutboxHandler(outboxUseCase outboxUseCase.UseCase, logger *slog.Logger) *OutboxHandler {
	return &OutboxHandler{
		outboxUseCase: outboxUseCase,
		logger:        logger,
	}
}

// ListEventsHandler lists a tenant's outbox events in a given status, oldest
// first. GET /v1/outbox/events?status=FAILED&offset=0&limit=50
func (h *OutboxHandler) ListEventsHandler(c *gin.Context) {
	tenantID, ok := h.tenantFromRequest(c)
	if !ok {
		return
	}

	status := domain.Status(c.DefaultQuery("status", string(domain.StatusFailed)))
	if !status.Valid() {
		httputil.HandleValidationErrorGin(
			c,
			fmt.Errorf("invalid status: %q", string(status)),
			h.logger,
		)
		return
	}

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	events, err := h.outboxUseCase.ListEvents(c.Request.Context(), tenantID, status, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.NewListOutboxEventsResponse(events, offset, limit))
}

// GetEventHandler retrieves a single outbox event.
// GET /v1/outbox/events/:id
func (h *OutboxHandler) GetEventHandler(c *gin.Context) {
	tenantID, ok := h.tenantFromRequest(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid event id: %w", err), h.logger)
		return
	}

	event, err := h.outboxUseCase.GetEvent(c.Request.Context(), tenantID, id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.NewOutboxEventResponse(event))
}

// tenantFromRequest extracts and validates the tenant header. It writes the
// error response itself and reports false when the header is missing or bad.
func (h *OutboxHandler) tenantFromRequest(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(TenantHeader)
	if raw == "" {
		httputil.HandleBadRequestGin(c, fmt.Errorf("missing %s header", TenantHeader), h.logger)
		return uuid.Nil, false
	}

	tenantID, err := uuid.Parse(raw)
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid %s header: %w", TenantHeader, err), h.logger)
		return uuid.Nil, false
	}

	return tenantID, true
}
