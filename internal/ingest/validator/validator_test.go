package validator_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/ais-insights/internal/ingest/validator"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		payload string

		wantMMSI   string
		wantFields map[string]any
		wantErr    error
	}{
		"Admits complete report":  {payload: `{"mmsi": 244660000, "latitude": 52.1, "longitude": 4.2}`, wantMMSI: "244660000"},
		"Admits string mmsi":      {payload: `{"mmsi": "244660000", "latitude": 52.1, "longitude": 4.2}`, wantMMSI: "244660000"},
		"Admits zero coordinates": {payload: `{"mmsi": 1, "latitude": 0, "longitude": 0}`, wantMMSI: "1"},
		"Admits with optional fields": {payload: `{"mmsi": 1, "latitude": 1, "longitude": 1, "speed": 3.4, "message_type": 1}`, wantMMSI: "1",
			wantFields: map[string]any{"speed": json.Number("3.4"), "message_type": json.Number("1")}},
		"Admits string speed unchanged": {payload: `{"mmsi":1,"latitude":1,"longitude":2,"speed":"12.5"}`, wantMMSI: "1",
			wantFields: map[string]any{"speed": "12.5"}},
		"Admits numeric message description unchanged": {payload: `{"mmsi":1,"latitude":1,"longitude":2,"message_description":5}`, wantMMSI: "1",
			wantFields: map[string]any{"message_description": json.Number("5")}},
		"Admits numeric timestamp unchanged": {payload: `{"mmsi":1,"latitude":1,"longitude":2,"timestamp":1700000000}`, wantMMSI: "1",
			wantFields: map[string]any{"timestamp": json.Number("1700000000")}},
		"Admits optional field of any type": {payload: `{"mmsi":1,"latitude":1,"longitude":2,"speed":{},"timestamp":[]}`, wantMMSI: "1",
			wantFields: map[string]any{"speed": map[string]any{}, "timestamp": []any{}}},
		"Keeps key case of other fields": {payload: `{"mmsi":1,"latitude":1,"longitude":2,"Speed":3}`, wantMMSI: "1",
			wantFields: map[string]any{"Speed": json.Number("3")}},

		"Rejects missing latitude":  {payload: `{"mmsi": 1, "longitude": 4.2}`, wantErr: validator.ErrMissingField},
		"Rejects missing longitude": {payload: `{"mmsi": 1, "latitude": 4.2}`, wantErr: validator.ErrMissingField},
		"Rejects missing mmsi":      {payload: `{"latitude": 52.1, "longitude": 4.2}`, wantErr: validator.ErrMissingField},
		"Rejects null latitude":     {payload: `{"mmsi": 1, "latitude": null, "longitude": 4.2}`, wantErr: validator.ErrMissingField},
		"Rejects empty object":      {payload: `{}`, wantErr: validator.ErrMissingField},
		"Rejects capitalized mmsi":  {payload: `{"MMSI": 1, "latitude": 1, "longitude": 2}`, wantErr: validator.ErrMissingField},

		"Malformed JSON is a decode failure":       {payload: `{"mmsi": 1,`, wantErr: validator.ErrDecode},
		"Non object is a decode failure":           {payload: `[1, 2]`, wantErr: validator.ErrDecode},
		"Empty payload is a decode failure":        {payload: ``, wantErr: validator.ErrDecode},
		"Wrong latitude type is a decode failure":  {payload: `{"mmsi": 1, "latitude": "N", "longitude": 4.2}`, wantErr: validator.ErrDecode},
		"Wrong longitude type is a decode failure": {payload: `{"mmsi": 1, "latitude": 1, "longitude": true}`, wantErr: validator.ErrDecode},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, err := validator.New().Validate([]byte(tc.payload))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr, "Validate should fail with the expected error")
				return
			}
			require.NoError(t, err, "Validate should admit the message")
			assert.Equal(t, tc.wantMMSI, r.MMSI, "Unexpected MMSI")
			assert.Equal(t, tc.wantFields, r.Fields, "Other fields should be kept as received")
		})
	}
}

func TestValidateNamesMissingFields(t *testing.T) {
	t.Parallel()

	_, err := validator.New().Validate([]byte(`{"speed": 1}`))
	require.ErrorIs(t, err, validator.ErrMissingField)
	assert.Contains(t, err.Error(), "latitude, longitude, mmsi", "Error should name every missing field")
}
