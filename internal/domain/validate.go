package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate shares gin's tag name so one set of struct tags serves both the
// websocket boundary and HTTP binding.
var validate = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// ValidationError describes the first invalid field of a payload.
type ValidationError struct {
	Field string
	Rule  string
	Param string
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case "required", "required_if", "required_without":
		return e.Field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field, e.Param)
	case "len":
		return fmt.Sprintf("%s must be %s characters", e.Field, e.Param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field, e.Param)
	case "min":
		return fmt.Sprintf("%s must have at least %s", e.Field, e.Param)
	case "mismatch":
		return e.Field + " does not match the conversation"
	case "json":
		return e.Field + " is not valid json"
	default:
		return fmt.Sprintf("%s is invalid (%s)", e.Field, e.Rule)
	}
}

// Validate checks v against its binding tags.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		// Slice elements report as participantIds[0]; keep the parent name.
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		return &ValidationError{Field: field, Rule: fe.Tag(), Param: fe.Param()}
	}
	return &ValidationError{Field: "payload", Rule: err.Error()}
}
