// Package allocation implements the serialized barcode allocation engine.
package allocation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"barcodeseq/internal/core/apperror"
	"barcodeseq/internal/core/sequence"
)

// Request asks for Count consecutive serials.
//
// Simple requests carry only a prefix. Compound requests additionally name
// the caller's week and the day (A) or night (B) mode.
type Request struct {
	Prefix   string `validate:"required"`
	Count    int    `validate:"gt=0"`
	Compound bool
	Week     string
	Mode     string
}

// Result is a fulfilled allocation.
type Result struct {
	Key      sequence.Key
	First    int
	Last     int
	Barcodes []string
}

func newResult(key sequence.Key, first, count int) Result {
	barcodes := make([]string, count)
	for i := range barcodes {
		barcodes[i] = key.Barcode(first + i)
	}
	return Result{
		Key:      key,
		First:    first,
		Last:     first + count - 1,
		Barcodes: barcodes,
	}
}

// scope renders the request's scope for logs and error details.
func (r Request) scope() string {
	if !r.Compound {
		return sequence.NormalizePrefix(r.Prefix)
	}
	return fmt.Sprintf("%s/%s/%s", r.Prefix, r.Week, r.Mode)
}

func (r Request) mode() sequence.Mode {
	m, _ := sequence.ParseMode(r.Mode)
	return m
}

// normalize trims caller input in place of the raw request.
func (r Request) normalize() Request {
	r.Prefix = strings.TrimSpace(r.Prefix)
	r.Week = strings.TrimSpace(r.Week)
	r.Mode = strings.ToUpper(strings.TrimSpace(r.Mode))
	return r
}

var validate = validator.New()

// Validate checks a normalized request. Failures are InvalidRequest errors.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		appErr := apperror.NewInvalidRequest("invalid allocation request")
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				appErr.WithDetail(strings.ToLower(fe.Field()), fieldMessage(fe))
			}
		}
		return appErr
	}

	if !r.Compound {
		return nil
	}
	if r.Week == "" {
		return apperror.NewInvalidRequest("invalid allocation request").
			WithDetail("week", "is required")
	}
	if _, err := sequence.ParseMode(r.Mode); err != nil {
		return apperror.NewInvalidRequest("invalid allocation request").
			WithDetail("mode", "must be A or B")
	}
	return nil
}

// checkBlockSize rejects blocks no sequence record can hold. It runs before
// queueing, so oversized requests never reach the store or the planners.
func (r Request) checkBlockSize() error {
	if r.Count > sequence.MaxSerial {
		return apperror.NewRangeExhausted(r.scope(), r.Count).
			WithDetail("max_per_slot", sequence.MaxSerial)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
