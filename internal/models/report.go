// Package models provides the data structures shared by the ingest and web services.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-viper/mapstructure/v2"
)

// Field names of a report document.
const (
	FieldMMSI               = "mmsi"
	FieldLatitude           = "latitude"
	FieldLongitude          = "longitude"
	FieldSpeed              = "speed"
	FieldMessageType        = "message_type"
	FieldMessageDescription = "message_description"
	FieldTimestamp          = "timestamp"
)

// Report is one AIS vessel observation.
//
// Only the identifier and the coordinates are interpreted. Every other field is kept in Fields
// as it was received and emitted back unchanged; typed views are derived on read.
// A Report is never modified once admitted: copies may share Fields.
type Report struct {
	// MMSI is the textual form of the identifier, used to tell vessels apart.
	MMSI      string
	Latitude  float64
	Longitude float64

	// Fields holds the optional and unknown fields of the document, keys matched exactly.
	Fields map[string]any

	// rawMMSI is the identifier as received, when it was not a string.
	rawMMSI any
}

// document is the decoding target of a report: required fields by exact name, the rest untouched.
type document struct {
	MMSI      any            `mapstructure:"mmsi"`
	Latitude  float64        `mapstructure:"latitude"`
	Longitude float64        `mapstructure:"longitude"`
	Fields    map[string]any `mapstructure:",remain"`
}

// DecodeObject parses a single JSON object, keeping numbers in their textual form.
func DecodeObject(data []byte) (map[string]any, error) {
	var fields map[string]any
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&fields); err != nil {
		return nil, err
	}
	if d.More() {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return fields, nil
}

// FromMap converts a decoded JSON object into a Report.
//
// It does not check for required fields: coordinates which are not numbers are the only error.
func FromMap(fields map[string]any) (r Report, err error) {
	var doc document
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		MatchName: func(mapKey, fieldName string) bool { return mapKey == fieldName },
		Result:    &doc,
	})
	if err != nil {
		return Report{}, fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := d.Decode(fields); err != nil {
		return Report{}, fmt.Errorf("report does not match expected structure: %w", err)
	}

	r = Report{
		Latitude:  doc.Latitude,
		Longitude: doc.Longitude,
	}
	if len(doc.Fields) > 0 {
		r.Fields = doc.Fields
	}
	if doc.MMSI != nil {
		r.MMSI = text(doc.MMSI)
		if _, ok := doc.MMSI.(string); !ok {
			r.rawMMSI = doc.MMSI
		}
	}
	return r, nil
}

// Speed returns the speed of the report when it is a JSON number.
func (r Report) Speed() (float64, bool) {
	switch v := r.Fields[FieldSpeed].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// MessageDescription returns the textual form of the message description, or "" when absent.
func (r Report) MessageDescription() string {
	v, ok := r.Fields[FieldMessageDescription]
	if !ok || v == nil {
		return ""
	}
	return text(v)
}

// Timestamp returns the timestamp of the report when it is a string.
func (r Report) Timestamp() (string, bool) {
	ts, ok := r.Fields[FieldTimestamp].(string)
	return ts, ok
}

// With returns a copy of r where the optional field key is set to v. r is left untouched.
func (r Report) With(key string, v any) Report {
	fields := make(map[string]any, len(r.Fields)+1)
	maps.Copy(fields, r.Fields)
	fields[key] = v
	r.Fields = fields
	return r
}

// text returns the form of v used for grouping: strings as is, anything else as JSON.
func text(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// MarshalJSON emits the report as a flat JSON object, every received field included.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	maps.Copy(out, r.Fields)

	out[FieldMMSI] = r.MMSI
	if r.rawMMSI != nil {
		out[FieldMMSI] = r.rawMMSI
	}
	out[FieldLatitude] = r.Latitude
	out[FieldLongitude] = r.Longitude

	return json.Marshal(out)
}

// UnmarshalJSON decodes a report object. Required fields are not enforced here.
func (r *Report) UnmarshalJSON(data []byte) error {
	fields, err := DecodeObject(data)
	if err != nil {
		return err
	}
	decoded, err := FromMap(fields)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}
