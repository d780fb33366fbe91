package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// newValidator returns a validator that reports fields by their "param" tag
// and knows the "jobid" rule.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("param"); name != "" {
			return name
		}
		return f.Name
	})
	_ = v.RegisterValidation("jobid", func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && jobIDPattern.MatchString(s)
	})
	return v
}

// fieldErrors turns validator errors into a field -> reason map.
func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "jobid":
		return "may only contain letters, digits, '-' and '_'"
	default:
		return "is invalid"
	}
}
