package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Get returns the shared validator instance.
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names so messages match the request body
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Struct validates s using its `validate` tags.
func Struct(s any) error {
	return Get().Struct(s)
}

// FormatValidationError turns validator errors into readable messages.
// Other errors are returned as a single message.
func FormatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		if err != nil {
			errs = append(errs, err.Error())
		}
		return errs
	}

	for _, e := range validationErrors {
		field := e.Field()

		switch e.Tag() {
		case "required":
			errs = append(errs, fmt.Sprintf("%s is required", field))
		case "oneof":
			errs = append(errs, fmt.Sprintf("%s must be one of [%s]", field, e.Param()))
		case "gt", "gte":
			errs = append(errs, fmt.Sprintf("%s must be %s %s", field, comparison(e.Tag()), e.Param()))
		case "required_if":
			errs = append(errs, fmt.Sprintf("%s is required for this action", field))
		case "max":
			errs = append(errs, fmt.Sprintf("%s must have maximum length %s", field, e.Param()))
		default:
			errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errs
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}
