// Package dto defines request and response bodies of the HTTP API.
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NextBarcodeRequest is the body of POST /next-barcode.
type NextBarcodeRequest struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

// DevNextBarcodeRequest is the body of POST /dev-next-barcode.
type DevNextBarcodeRequest struct {
	Prefix string `json:"prefix"`
	Mode   string `json:"mode"`
	Count  int    `json:"count"`
	Week   Week   `json:"week"`
}

// Week accepts a JSON string or integer; clients send both.
type Week string

// UnmarshalJSON implements json.Unmarshaler.
func (w *Week) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = Week(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("week must be a string or integer: %w", err)
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("week must be an integer, got %s", n)
	}
	*w = Week(strconv.FormatInt(i, 10))
	return nil
}

// BarcodesResponse carries issued barcodes in serial order.
type BarcodesResponse struct {
	Barcodes []string `json:"barcodes"`
}

// StatusResponse acknowledges a write.
type StatusResponse struct {
	Status string `json:"status"`
}

// SequenceResponse describes a stored sequence.
type SequenceResponse struct {
	Prefix      string    `json:"prefix"`
	Week        string    `json:"week,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	Slot        *int      `json:"slot,omitempty"`
	LastNumber  int       `json:"last_number"`
	Remaining   int       `json:"remaining"`
	NextBarcode string    `json:"next_barcode,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}
