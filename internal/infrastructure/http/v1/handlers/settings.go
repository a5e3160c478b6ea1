package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barcodeseq/internal/core/apperror"
	"barcodeseq/internal/domain/settings"
	"barcodeseq/internal/infrastructure/http/v1/dto"
)

// SettingsHandler stores the client's opaque settings document.
type SettingsHandler struct {
	*BaseHandler
	service *settings.Service
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(base *BaseHandler, service *settings.Service) *SettingsHandler {
	return &SettingsHandler{BaseHandler: base, service: service}
}

// Save replaces the stored document.
// POST /save-settings
func (h *SettingsHandler) Save(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.Error(c, apperror.NewInvalidRequest("unreadable request body").WithCause(err))
		return
	}

	if err := h.service.Save(c.Request.Context(), body); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.StatusResponse{Status: "ok"})
}

// Load returns the stored document, or {} when there is none.
// GET /load-settings
func (h *SettingsHandler) Load(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", h.service.Load(c.Request.Context()))
}
