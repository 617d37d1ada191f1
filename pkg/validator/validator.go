package validator

import (
	"errors"
	"fmt"
	"strings"

	"anoa.com/refurnish/pkg/apperror"
	"github.com/go-playground/validator/v10"
)

func FormatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return strings.Join(messages, "; ")
	}
	return err.Error()
}

// ToValidationError converts a gin binding failure into an apperror.ValidationError
// keyed by the JSON field name.
func ToValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperror.NewValidationError("body", err.Error())
	}

	out := &apperror.ValidationError{}
	for _, fe := range validationErrors {
		out.Add(jsonName(fe.Field()), getFieldErrorMessage(fe))
	}
	return out
}

func getFieldErrorMessage(fe validator.FieldError) string {
	field := jsonName(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Type().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Type().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// jsonName maps a Go field name to its camelCase wire name.
func jsonName(field string) string {
	fieldNames := map[string]string{
		"UserID":       "userId",
		"ReferenceID":  "referenceId",
		"PointsReward": "pointsReward",
		"SortBy":       "sortBy",
		"SortOrder":    "sortOrder",
	}
	if name, ok := fieldNames[field]; ok {
		return name
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
