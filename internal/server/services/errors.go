package services

import (
	"errors"

	"github.com/dmitrijs2005/storeauth/internal/common"
)

// storageError translates a repository failure at a service boundary.
// Sentinel errors that already carry meaning pass through unchanged.
func storageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrConflict),
		errors.Is(err, common.ErrAuthenticationFailure):
		return err
	}
	return common.StorageError(err)
}
