package listings

import (
	"errors"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	})
	return v
}

// Validate checks a listing before it is written: the kind must match the
// populated payload, required fields must be present and numbers must not
// be negative.
func Validate(l Listing) error {
	switch l.Kind {
	case KindCargo:
		if l.Cargo == nil || l.Exchange != nil {
			return &ValidationError{Field: "kind", Reason: "cargo listing must carry only cargo details"}
		}
	case KindExchange:
		if l.Exchange == nil || l.Cargo != nil {
			return &ValidationError{Field: "kind", Reason: "exchange listing must carry only exchange details"}
		}
	default:
		return &ValidationError{Field: "kind", Reason: "must be cargo or exchange"}
	}

	return validateStruct(l)
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gte":
		return "must not be negative"
	case "finite":
		return "must be a finite number"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "invalid (" + fe.Tag() + ")"
}
