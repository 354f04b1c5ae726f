package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so error payloads match request bodies.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		default:
			return name
		}
	})
	return v
}

// messages maps a validation tag to its client-facing message. A %s verb is
// filled with the tag parameter.
var messages = map[string]string{
	"required":   "is required",
	"email":      "must be a valid email address",
	"min":        "must be at least %s characters",
	"max":        "must be at most %s characters",
	"gte":        "must be greater than or equal to %s",
	"lte":        "must be less than or equal to %s",
	"printascii": "must contain printable ASCII characters only",
	"oneof":      "must be one of: %s",
}

// Violation is one failed rule on one field.
type Violation struct {
	Field   string
	Message string
}

// ValidationError lists every violation of a request body, ordered by field.
type ValidationError struct {
	Violations []Violation
}

// Validate checks s against its `validate` struct tags. Rule failures come
// back as *ValidationError; anything else (e.g. a non-struct argument) is
// returned as is.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Violations: make([]Violation, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, Violation{Field: fe.Field(), Message: message(fe)})
	}
	sort.SliceStable(out.Violations, func(i, j int) bool {
		return out.Violations[i].Field < out.Violations[j].Field
	})
	return out
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("field '%s' %s", v.Field, v.Message)
	}
	return strings.Join(parts, "; ")
}

// Fields returns the violations keyed by field name.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Violations))
	for _, v := range e.Violations {
		if _, seen := fields[v.Field]; !seen {
			fields[v.Field] = v.Message
		}
	}
	return fields
}

func message(fe validator.FieldError) string {
	tmpl, ok := messages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, fe.Param())
	}
	return tmpl
}
