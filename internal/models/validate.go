package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ValidationError reports a document or request that does not have the
// expected shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Field names in errors follow the json names used on the wire and in stores.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Decimals are compared numerically by the gt/gte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return v
}

type shaped interface {
	validateShape() error
}

// Validate checks v against its struct tags and, for domain documents, the
// cross-field rules that tags cannot express. Stores call it before writing
// a document and after decoding one.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fieldPath(fe), Reason: describe(fe)}
		}
		return &ValidationError{Reason: err.Error()}
	}

	if s, ok := v.(shaped); ok {
		return s.validateShape()
	}
	return nil
}

// fieldPath drops the struct name from the namespace, so nested fields read
// as "from.kind" and top-level ones as "amount".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be below " + fe.Param()
	case "max":
		return "is longer than " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	case "uppercase":
		return "must be upper case"
	default:
		return "failed " + fe.Tag()
	}
}
