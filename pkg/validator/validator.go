// Package validator registers custom validation rules on the gin binding
// engine. Request structs reference the rules through binding tags.
package validator

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Accepts local and E.164 style numbers, 7 to 15 digits with an optional
// leading plus.
var phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// Register installs the custom rules. Call once at startup before the
// router begins serving requests.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("phone", validatePhone)
}
