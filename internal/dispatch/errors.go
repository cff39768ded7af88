package dispatch

import (
	"errors"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func isRejected(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) || domain.IsValidation(err)
}
