package collab

import (
	"context"
	"errors"

	"github.com/liverylab/paintrig/backend/internal/scheme"
)

// ErrNotAuthorized indicates that the acting user may not mutate the scheme.
var ErrNotAuthorized = errors.New("collab: not authorized")

// SchemeReader is the single lookup the permission guard performs.
type SchemeReader interface {
	GetScheme(ctx context.Context, id scheme.SchemeID) (*scheme.Scheme, error)
}

// Guard decides whether a user may mutate a scheme: the owner always may, as
// may any collaborator holding an accepted editable grant. The check runs
// against the store on every call, so revoking a grant takes effect on the
// next event.
type Guard struct {
	schemes SchemeReader
}

// NewGuard constructs a Guard over the scheme store.
func NewGuard(schemes SchemeReader) *Guard {
	return &Guard{schemes: schemes}
}

// CanMutate reports whether userID may mutate schemeID. Store failures
// propagate so callers can distinguish "denied" from "lookup failed".
func (g *Guard) CanMutate(ctx context.Context, userID scheme.UserID, schemeID scheme.SchemeID) (bool, error) {
	row, err := g.schemes.GetScheme(ctx, schemeID)
	if err != nil {
		return false, err
	}
	if row.UserID == userID.Int64() {
		return true, nil
	}
	for _, share := range row.Shares {
		if share.UserID == userID.Int64() && share.Editable && share.Accepted {
			return true, nil
		}
	}
	return false, nil
}
