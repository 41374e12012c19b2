// Package schema validates events and requests before they leave the service.
package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks the struct tags of event and returns a descriptive error
// naming the first failing fields.
func (v *Validator) Validate(event any) error {
	if err := v.v.Struct(event); err != nil {
		log.Debug().Err(err).Type("event", event).Msg("schema validation failed")
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid %T: field %s failed %q", event, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid %T: %w", event, err)
	}
	return nil
}
