// Package validator decides which incoming messages are admitted as reports.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ubuntu/ais-insights/internal/models"
)

var (
	// ErrDecode is returned when a payload cannot be read as a report document.
	ErrDecode = errors.New("malformed message")

	// ErrMissingField is returned when a message lacks one of the fields required for admission.
	ErrMissingField = errors.New("missing required field")
)

// requiredFields must be present, and not null, for a message to be admitted.
var requiredFields = []string{models.FieldLatitude, models.FieldLongitude, models.FieldMMSI}

// Validator admits or rejects raw messages.
type Validator struct{}

// New returns a Validator.
func New() Validator {
	return Validator{}
}

// Validate decodes raw and returns the report it describes.
//
// Only the required fields decide admission. The error wraps ErrMissingField when one of them
// is absent, and ErrDecode when raw is not a JSON object or a coordinate is not a number.
// Every other field is admitted whatever its type and kept as received.
func (v Validator) Validate(raw []byte) (models.Report, error) {
	fields, err := models.DecodeObject(raw)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v.ValidateFields(fields)
}

// ValidateFields is like Validate for an already decoded JSON object.
func (Validator) ValidateFields(fields map[string]any) (models.Report, error) {
	var missing []string
	for _, f := range requiredFields {
		if v, ok := fields[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return models.Report{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	r, err := models.FromMap(fields)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return r, nil
}
