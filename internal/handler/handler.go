package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/dto"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/service"
)

// WorkspaceHeader carries the workspace every request is scoped to
const WorkspaceHeader = "X-Workspace-Id"

const workspaceKey = "workspace_id"

type Handler struct {
	eventService service.EventServicer
	metrics      *metrics.Metrics
	router       *gin.Engine
	log          *zap.Logger
}

// NewHandler builds the ingest API. m may be nil, in which case /metrics is
// not served.
func NewHandler(eventService service.EventServicer, m *metrics.Metrics, log *zap.Logger) *Handler {
	h := &Handler{
		eventService: eventService,
		metrics:      m,
		router:       gin.Default(),
		log:          log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	if h.metrics != nil {
		h.router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	scoped := h.router.Group("/", h.requireWorkspace)
	scoped.POST("/events", h.publishEvent)
	scoped.POST("/events/bulk", h.publishEventsBulk)
	scoped.GET("/users/:user_id/assignments", h.getUserAssignments)
}

// healthCheck handles GET /health
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// requireWorkspace rejects requests without a workspace header
func (h *Handler) requireWorkspace(c *gin.Context) {
	workspaceID := c.GetHeader(WorkspaceHeader)
	if workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: WorkspaceHeader + " header is required",
		})
		return
	}
	c.Set(workspaceKey, workspaceID)
	c.Next()
}

// publishEvent handles POST /events
// @Summary Publish a single event
// @Description Publish a single identify, track, page or screen event to the ingest queue
// @Tags events
// @Accept json
// @Produce json
// @Param X-Workspace-Id header string true "Workspace id"
// @Param event body dto.PublishEventRequest true "Event data"
// @Success 202 {object} dto.PublishEventResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events [post]
func (h *Handler) publishEvent(c *gin.Context) {
	var req dto.PublishEventRequest
	workspaceID := c.GetString(workspaceKey)

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request",
			zap.Error(err),
			zap.String("workspace_id", workspaceID))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	messageID, err := h.eventService.ProcessEvent(c.Request.Context(), workspaceID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			h.log.Warn("Event rejected",
				zap.Error(err),
				zap.String("workspace_id", workspaceID),
				zap.String("type", req.Type))
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
			return
		}
		h.log.Error("Failed to process event",
			zap.Error(err),
			zap.String("workspace_id", workspaceID),
			zap.String("event", req.Event),
			zap.String("user_id", req.UserID))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	h.log.Info("Event accepted",
		zap.String("workspace_id", workspaceID),
		zap.String("message_id", messageID),
		zap.String("type", req.Type),
		zap.String("event", req.Event))

	c.JSON(http.StatusAccepted, dto.PublishEventResponse{
		MessageID: messageID,
		Status:    "accepted",
	})
}

// publishEventsBulk handles POST /events/bulk
// @Summary Publish multiple events
// @Description Publish multiple events in bulk to the ingest queue
// @Tags events
// @Accept json
// @Produce json
// @Param X-Workspace-Id header string true "Workspace id"
// @Param events body dto.PublishEventsBulkRequest true "Bulk events data"
// @Success 202 {object} dto.PublishBulkEventsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events/bulk [post]
func (h *Handler) publishEventsBulk(c *gin.Context) {
	var bulkRequest dto.PublishEventsBulkRequest
	workspaceID := c.GetString(workspaceKey)

	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	messageIDs, errs, err := h.eventService.ProcessBulkEvents(c.Request.Context(), workspaceID, bulkRequest.Events)
	if err != nil {
		h.log.Error("Failed to process bulk events",
			zap.Error(err),
			zap.Int("event_count", len(bulkRequest.Events)))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	accepted := len(messageIDs)
	rejected := len(errs)

	h.log.Info("Bulk events processed",
		zap.String("workspace_id", workspaceID),
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
		zap.Int("total", len(bulkRequest.Events)))

	c.JSON(http.StatusAccepted, dto.PublishBulkEventsResponse{
		Accepted:   accepted,
		Rejected:   rejected,
		MessageIDs: messageIDs,
		Errors:     errs,
	})
}

// getUserAssignments handles GET /users/:user_id/assignments
// @Summary Get user assignments
// @Description Retrieve the latest segment and user property assignments of a user
// @Tags assignments
// @Produce json
// @Param X-Workspace-Id header string true "Workspace id"
// @Param user_id path string true "User id"
// @Success 200 {object} dto.UserAssignmentsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /users/{user_id}/assignments [get]
func (h *Handler) getUserAssignments(c *gin.Context) {
	workspaceID := c.GetString(workspaceKey)
	userID := c.Param("user_id")

	response, err := h.eventService.GetUserAssignments(c.Request.Context(), workspaceID, userID)
	if err != nil {
		h.log.Error("Failed to get user assignments",
			zap.Error(err),
			zap.String("workspace_id", workspaceID),
			zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}
