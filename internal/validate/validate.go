// Package validate holds the shared validator instance for the
// request-shaped parameter structs service operations accept.
package validate

import (
	"github.com/go-playground/validator/v10"
)

var instance = validator.New(validator.WithRequiredStructEnabled())

// Struct validates a struct by its `validate` tags
func Struct(s any) error {
	return instance.Struct(s)
}
