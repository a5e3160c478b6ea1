package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeek_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		body    string
		want    Week
		wantErr bool
	}{
		{`{"week": 12}`, "12", false},
		{`{"week": "12"}`, "12", false},
		{`{"week": "W07"}`, "W07", false},
		{`{"week": null}`, "", false},
		{`{}`, "", false},
		{`{"week": 1.5}`, "", true},
		{`{"week": true}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var req DevNextBarcodeRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Week)
		})
	}
}
