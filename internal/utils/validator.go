package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps a configured validator.v10 instance.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator with json tag names for better error
// messages.
func NewValidator() *Validator {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate}
}

// Validate validates struct tags.
func (v *Validator) Validate(s interface{}) error {
	return v.validate.Struct(s)
}
