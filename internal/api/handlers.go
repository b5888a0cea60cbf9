package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nevexpert/internal/attachment"
	"nevexpert/internal/chat"
	"nevexpert/internal/checkout"
	"nevexpert/internal/staging"
)

const maxUploadBytes = 8 << 20 // 8 MiB per diagnostic image

// Handler wires HTTP routes to the chat registry, upload staging, and the
// checkout flow.
type Handler struct {
	registry   *chat.Registry
	staging    *staging.Service
	checkout   *checkout.Service
	uploadBase string
	uploadTTL  time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(registry *chat.Registry, stagingSvc *staging.Service, checkoutSvc *checkout.Service, uploadBase string, uploadTTL time.Duration) *Handler {
	return &Handler{
		registry:   registry,
		staging:    stagingSvc,
		checkout:   checkoutSvc,
		uploadBase: uploadBase,
		uploadTTL:  uploadTTL,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/plans", h.listPlans)
	api.GET("/subscription", h.getSubscription)
	api.POST("/checkout", h.beginCheckout)
	api.GET("/checkout/:id", h.getCheckout)
	api.POST("/checkout/:id/method", h.selectCheckoutMethod)

	sessions := api.Group("/chat/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getTranscript)
	sessions.DELETE("/:id", h.closeSession)
	sessions.POST("/:id/messages", h.submitMessage)
	sessions.POST("/:id/attachment", h.uploadAttachment)
	sessions.DELETE("/:id/attachment", h.clearAttachment)
}

func (h *Handler) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": checkout.Plans()})
}

func (h *Handler) getSubscription(c *gin.Context) {
	status := h.checkout.Subscription(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"tier":   status.Tier(),
	})
}

func (h *Handler) beginCheckout(c *gin.Context) {
	var req struct {
		PlanID string `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	order, err := h.checkout.Begin(strings.TrimSpace(req.PlanID))
	if err != nil {
		if errors.Is(err, checkout.ErrUnknownPlan) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (h *Handler) getCheckout(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, ok := h.checkout.Order(orderID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) selectCheckoutMethod(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	var req struct {
		Method string `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	order, err := h.checkout.SelectMethod(c.Request.Context(), orderID, checkout.Method(req.Method))
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrUnknownOrder):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(err, checkout.ErrBadTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "order already dispatched"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order": order})
}

func (h *Handler) createSession(c *gin.Context) {
	tier := h.checkout.Tier(c.Request.Context())
	id, session := h.registry.Create(tier)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"tier":       tier,
		"turns":      session.Turns(),
	})
}

func (h *Handler) sessionFromPath(c *gin.Context) (int64, *chat.Session, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, nil, false
	}
	session, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return 0, nil, false
	}
	return id, session, true
}

func (h *Handler) getTranscript(c *gin.Context) {
	_, session, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	resp := gin.H{
		"tier":      session.Tier(),
		"turns":     session.Turns(),
		"in_flight": session.InFlight(),
	}
	if pending := session.PendingAttachment(); pending != nil {
		resp["pending_attachment"] = gin.H{"media_type": pending.MediaType}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) closeSession(c *gin.Context) {
	id, _, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	if err := h.staging.DeleteForSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "discard staged upload failed"})
		return
	}
	h.registry.Close(id)
	c.Status(http.StatusNoContent)
}

// submitMessage runs one conversation exchange. Failures inside the model
// call never surface here; the session absorbs them into a fallback turn.
func (h *Handler) submitMessage(c *gin.Context) {
	id, session, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, reply, accepted := session.Submit(c.Request.Context(), req.Content)
	if !accepted {
		if session.InFlight() {
			c.JSON(http.StatusConflict, gin.H{"error": "a reply is still in flight"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs text or an attachment"})
		return
	}
	// The staged upload was consumed by this turn.
	if err := h.staging.DeleteForSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "release staged upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_turn":      user,
		"assistant_turn": reply,
	})
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	id, session, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}

	att, err := attachment.Encode(data)
	if err != nil {
		if errors.Is(err, attachment.ErrNotImage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filename := filepath.Base(file.Filename)
	destDir, destPath := h.uploadPath(id, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	record, err := h.staging.Record(c.Request.Context(), id, filename, destPath, att.MediaType, int64(len(data)), h.uploadTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record staged upload failed"})
		return
	}
	session.SetPendingAttachment(att)

	c.JSON(http.StatusCreated, gin.H{
		"file_name":  record.FileName,
		"media_type": record.MediaType,
		"size":       record.Size,
		"expires_at": record.ExpiresAt,
	})
}

func (h *Handler) clearAttachment(c *gin.Context) {
	id, session, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	if err := h.staging.DeleteForSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "discard staged upload failed"})
		return
	}
	session.ClearPendingAttachment()
	c.Status(http.StatusNoContent)
}

func (h *Handler) uploadPath(sessionID int64, filename string) (string, string) {
	destDir := filepath.Join(h.uploadBase, strconv.FormatInt(sessionID, 10))
	destPath := filepath.Join(destDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filename))
	return destDir, destPath
}
