// Package reqvalidate struct-tag validates the request types the operation
// services accept (CreatePoolRequest, CreateReplicaRequest, ...), grounded
// on the teacher's internal/httpserver/validate.go — the same
// go-playground/validator/v10 instance and field-error shape, with the HTTP
// decode/respond half dropped since this module exposes no REST surface.
package reqvalidate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate runs struct-tag validation on v and returns field-level errors,
// nil if v is valid.
func Validate(v any) []FieldError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, FieldError{Field: jsonFieldName(fe), Message: fieldErrorMessage(fe)})
	}
	return out
}

// AsInvalidArgument validates v and, if it fails, returns a *ctlerr.Error of
// KindInvalidArgument describing every failing field. Services call this at
// the top of every CreateX/MutateX entry point.
func AsInvalidArgument(resource string, v any) error {
	errs := Validate(v)
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return ctlerr.New(ctlerr.KindInvalidArgument, resource, "reqvalidate", "%s", strings.Join(parts, "; "))
}

func jsonFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return toSnakeCase(ns)
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "uuid":
		return "must be a valid UUID"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "dive":
		return "contains an invalid element"
	default:
		return fmt.Sprintf("failed on %q validation", fe.Tag())
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 32)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
