package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"barcodeseq/internal/core/apperror"
	"barcodeseq/internal/core/sequence"
	"barcodeseq/internal/infrastructure/http/v1/dto"
)

// SequenceHandler exposes stored sequence state to operators.
type SequenceHandler struct {
	*BaseHandler
	store sequence.Store
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(base *BaseHandler, store sequence.Store) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, store: store}
}

// Get returns the record of a simple prefix, or the active slot of a
// compound scope when week and mode are given.
// GET /sequences?prefix=&week=&mode=
func (h *SequenceHandler) Get(c *gin.Context) {
	prefix := c.Query("prefix")
	week := c.Query("week")
	rawMode := c.Query("mode")

	if prefix == "" {
		h.Error(c, apperror.NewInvalidRequest("prefix is required"))
		return
	}

	ctx := c.Request.Context()
	var (
		rec   sequence.Record
		err   error
		scope string
	)
	if week != "" || rawMode != "" {
		mode, perr := sequence.ParseMode(rawMode)
		if perr != nil || week == "" {
			h.Error(c, apperror.NewInvalidRequest("compound lookup needs week and mode A or B"))
			return
		}
		scope = prefix + "/" + week + "/" + string(mode)
		rec, err = h.store.Highest(ctx, prefix, week, mode)
	} else {
		key := sequence.SimpleKey(prefix)
		scope = key.String()
		rec, err = h.store.Get(ctx, key)
	}

	if err != nil {
		if errors.Is(err, sequence.ErrNotFound) {
			h.Error(c, apperror.NewNotFound(scope))
			return
		}
		h.Error(c, apperror.NewStoreUnavailable(err).WithDetail("scope", scope))
		return
	}

	h.OK(c, toSequenceResponse(rec))
}

func toSequenceResponse(rec sequence.Record) dto.SequenceResponse {
	resp := dto.SequenceResponse{
		Prefix:     rec.Key.Prefix,
		Week:       rec.Key.Week,
		Mode:       string(rec.Key.Mode),
		LastNumber: rec.LastNumber,
		Remaining:  sequence.MaxSerial - rec.LastNumber,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.Key.Compound() {
		slot := rec.Key.Slot
		resp.Slot = &slot
	}
	if rec.LastNumber < sequence.MaxSerial {
		resp.NextBarcode = rec.Key.Barcode(rec.LastNumber + 1)
	}
	return resp
}
