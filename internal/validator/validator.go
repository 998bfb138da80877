package validator

import (
	"fmt"
	"strings"
	"sync"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared validator instance
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates a struct using its `validate` tags and converts
// validator errors into ierr validation errors with per-field details.
func ValidateRequest(req interface{}) error {
	err := GetValidator().Struct(req)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ierr.WithError(err).
			WithHint("Request validation failed").
			Mark(ierr.ErrValidation)
	}

	details := make(map[string]interface{}, len(validationErrors))
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		msg := fmt.Sprintf("%s failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag())
		details[fieldErr.Namespace()] = msg
		messages = append(messages, msg)
	}

	return ierr.WithError(err).
		WithHint(strings.Join(messages, "; ")).
		WithReportableDetails(details).
		Mark(ierr.ErrValidation)
}
