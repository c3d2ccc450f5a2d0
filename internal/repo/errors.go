package repo

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Translate maps a raw storage error onto the typed error taxonomy. Typed errors pass through.
func Translate(err error, entity string, id uint64) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %d not found", entity, id))
	case db.IsUniqueViolation(err, ""):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("%s already exists", entity))
	case db.IsRetryableConflict(err):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent update, retry the request")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("db: %s query failed", entity))
	}
}
