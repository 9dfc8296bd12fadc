package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

var errMissingCoordinator = errors.New("coordinator dependency required")

// Dependencies carries the collaborators for the HTTP surface.
type Dependencies struct {
	Coordinator *alarms.Coordinator
	Logger      *zap.Logger
}

// NewHTTPHandler builds the loopback REST surface used by the UI shell.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{coordinator: deps.Coordinator, logger: logger}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/alarms", handler.handleListAlarms)
	router.GET("/alarms/:id", handler.handleGetAlarm)
	router.POST("/alarms", handler.handleSaveAlarm)
	router.POST("/alarms/:id/toggle", handler.handleToggleAlarm)
	router.DELETE("/alarms/:id", handler.handleDeleteAlarm)
	router.POST("/alarms/:id/dismiss", handler.handleDismissAlarm)
	router.POST("/alarms/:id/snooze", handler.handleSnoozeAlarm)
	router.POST("/sync/request", handler.handleSyncRequest)

	return router, nil
}

type httpHandler struct {
	coordinator *alarms.Coordinator
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	revision, err := h.coordinator.CurrentRevision(c.Request.Context())
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "currentRevision": revision})
}

func (h *httpHandler) handleListAlarms(c *gin.Context) {
	all, err := h.coordinator.GetAll(c.Request.Context())
	if err != nil {
		h.respondError(c, "list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alarms": all})
}

func (h *httpHandler) handleGetAlarm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	alarm, err := h.coordinator.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get_failed", err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

func (h *httpHandler) handleSaveAlarm(c *gin.Context) {
	var input alarms.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.coordinator.Save(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, "save_failed", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleToggleAlarm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request togglePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	alarm, err := h.coordinator.Toggle(c.Request.Context(), id, request.Enabled)
	if err != nil {
		h.respondError(c, "toggle_failed", err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

func (h *httpHandler) handleDeleteAlarm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.coordinator.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDismissAlarm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	alarm, err := h.coordinator.Dismiss(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "dismiss_failed", err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

type snoozePayload struct {
	Minutes int `json:"minutes"`
}

func (h *httpHandler) handleSnoozeAlarm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request snoozePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	alarm, err := h.coordinator.Snooze(c.Request.Context(), id, request.Minutes)
	if err != nil {
		h.respondError(c, "snooze_failed", err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

type syncRequestPayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleSyncRequest(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	reason, ok := parseSyncReason(request.Reason)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reason"})
		return
	}
	if err := h.coordinator.RequestSync(c.Request.Context(), reason); err != nil {
		h.respondError(c, "sync_request_failed", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) respondError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, alarms.ErrAlarmNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, alarms.ErrUnknownTriggerMode) ||
		errors.Is(err, alarms.ErrMissingFixedTime) ||
		errors.Is(err, alarms.ErrMissingWindow) ||
		errors.Is(err, alarms.ErrInvalidWindow) ||
		errors.Is(err, alarms.ErrInvalidClockTime) ||
		errors.Is(err, alarms.ErrInvalidWeekday) ||
		errors.Is(err, alarms.ErrInvalidSnooze) ||
		errors.Is(err, alarms.ErrAlarmDisabled)
}

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func parseSyncReason(value string) (alarms.SyncReason, bool) {
	switch alarms.SyncReason(strings.ToUpper(strings.TrimSpace(value))) {
	case alarms.SyncReasonBatchComplete:
		return alarms.SyncReasonBatchComplete, true
	case alarms.SyncReasonInitialize:
		return alarms.SyncReasonInitialize, true
	case alarms.SyncReasonReconnect:
		return alarms.SyncReasonReconnect, true
	case alarms.SyncReasonForceSync:
		return alarms.SyncReasonForceSync, true
	default:
		return "", false
	}
}
