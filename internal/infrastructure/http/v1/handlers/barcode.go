package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"barcodeseq/internal/domain/allocation"
	"barcodeseq/internal/infrastructure/http/v1/dto"
)

// Allocator issues barcode blocks.
type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (allocation.Result, error)
}

// BarcodeHandler serves the allocation endpoints.
type BarcodeHandler struct {
	*BaseHandler
	allocator Allocator
}

// NewBarcodeHandler creates a new barcode handler.
func NewBarcodeHandler(base *BaseHandler, allocator Allocator) *BarcodeHandler {
	return &BarcodeHandler{BaseHandler: base, allocator: allocator}
}

// Next issues serials under a simple prefix.
// POST /next-barcode
func (h *BarcodeHandler) Next(c *gin.Context) {
	var req dto.NextBarcodeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	h.allocate(c, allocation.Request{
		Prefix: req.Prefix,
		Count:  req.Count,
	})
}

// DevNext issues serials under a prefix/week/mode scope.
// POST /dev-next-barcode
func (h *BarcodeHandler) DevNext(c *gin.Context) {
	var req dto.DevNextBarcodeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	h.allocate(c, allocation.Request{
		Prefix:   req.Prefix,
		Count:    req.Count,
		Compound: true,
		Week:     string(req.Week),
		Mode:     req.Mode,
	})
}

func (h *BarcodeHandler) allocate(c *gin.Context, req allocation.Request) {
	result, err := h.allocator.Allocate(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.BarcodesResponse{Barcodes: result.Barcodes})
}
