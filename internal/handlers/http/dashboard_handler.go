package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/services"
	"freightdash/internal/infrastructure/feed"
	"freightdash/pkg/errors"
	"freightdash/pkg/validation"

	"github.com/gin-gonic/gin"
)

// Dashboard is the session surface the handlers read from.
type Dashboard interface {
	Store() *services.ReconcileStore
	Status() services.SessionStatus
	LoginError() string
	Send(ctx context.Context, msgType string, payload any) error
}

type DashboardHandler struct {
	dashboard Dashboard
}

func NewDashboardHandler(dashboard Dashboard) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dashboard,
	}
}

func (h *DashboardHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/status", h.GetStatus)

	views := api.Group("", h.requireLogin)
	{
		views.GET("/view", h.GetView)
		views.GET("/view/:name", h.GetCollection)
		views.GET("/tables/:name", h.GetTable)
		views.GET("/markers", h.GetMarkers)
		views.GET("/events", h.StreamEvents)
		views.POST("/feed/send", h.SendFeedMessage)
	}
}

// requireLogin answers 503 with the login failure message once login has
// failed.
func (h *DashboardHandler) requireLogin(c *gin.Context) {
	if msg := h.dashboard.LoginError(); msg != "" {
		c.Error(errors.NewServiceUnavailableError(msg))
		c.Abort()
		return
	}
	c.Next()
}

func (h *DashboardHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.dashboard.Status())
}

func (h *DashboardHandler) GetView(c *gin.Context) {
	c.JSON(http.StatusOK, h.dashboard.Store().Snapshot())
}

func (h *DashboardHandler) GetCollection(c *gin.Context) {
	vm := h.dashboard.Store().Snapshot()
	records, err := services.CollectionFor(vm, c.Param("name"))
	if err != nil {
		c.Error(errors.NewNotFoundError(c.Param("name")))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version": vm.Version,
		"records": records,
	})
}

func (h *DashboardHandler) GetTable(c *gin.Context) {
	vm := h.dashboard.Store().Snapshot()
	table, err := services.TableFor(vm, c.Param("name"))
	if err != nil {
		if stderrors.Is(err, domain.ErrUnknownResource) {
			c.Error(errors.NewNotFoundError(c.Param("name")))
			return
		}
		c.Error(errors.NewInternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version": vm.Version,
		"table":   table,
	})
}

func (h *DashboardHandler) GetMarkers(c *gin.Context) {
	vm := h.dashboard.Store().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version": vm.Version,
		"markers": services.BuildMarkers(vm.Freighters, vm.Shipments),
	})
}

// StreamEvents sends the current store version, then one "version" event
// per accepted change until the client goes away or the store closes.
func (h *DashboardHandler) StreamEvents(c *gin.Context) {
	store := h.dashboard.Store()
	updates, cancel := store.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("version", store.Version())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("version", v)
			return true
		}
	})
}

type sendRequest struct {
	Type    string          `json:"type" binding:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

func (h *DashboardHandler) SendFeedMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateMessageType(req.Type); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	err := h.dashboard.Send(c.Request.Context(), req.Type, payload)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"type": req.Type,
			"feed": h.dashboard.Status().Feed,
		})
	case stderrors.Is(err, feed.ErrRateLimited):
		c.Error(errors.NewRateLimitError())
	case stderrors.Is(err, domain.ErrSessionClosed), stderrors.Is(err, domain.ErrLoginRequired):
		c.Error(errors.NewServiceUnavailableError(err.Error()))
	default:
		c.Error(errors.WrapError(err, errors.ErrCodeTransportFailed, "Send failed", http.StatusBadGateway))
	}
}
