package common

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// FieldError names one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs v over s and converts failures into a ValidationError whose
// details list every failed field.
func ValidateStruct(v *validator.Validate, s any) error {
	if v == nil {
		v = NewValidator()
	}
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError(CodeValidation, "invalid request", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: trimNamespace(fe.Namespace()), Rule: fe.Tag()})
	}
	appErr := ValidationError(CodeValidation, "request validation failed", err)
	appErr.Details = fields
	return appErr
}

// PartialCheckoutFailure reports a payment that was created for an order the carrier
// refused. details carry the carrier's error list verbatim.
func PartialCheckoutFailure(message string, err error, details any) *AppError {
	return &AppError{Code: CodePartialCheckout, Message: message, HTTPStatus: http.StatusBadGateway, Err: err, Details: details}
}

func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
