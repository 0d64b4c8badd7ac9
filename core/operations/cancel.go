package operations

import (
	"context"
	"fmt"

	"conductor/core/errors"
)

func handleCancel(ctx context.Context, api *API, kind Kind) (any, error) {
	c, ok := kind.(Cancel)
	if !ok {
		return nil, fmt.Errorf("unexpected kind %T for %s", kind, CancelName)
	}
	// The cancel operation's own token must not abort the request.
	found, err := api.tracker.CancelOperation(context.WithoutCancel(ctx), c.Target)
	if err != nil {
		return nil, errors.NewNative(errors.SeverityWarning, errors.KindIo, "Fail to cancel operation %s; error: %v", c.Target, err)
	}
	if !found {
		return nil, errors.NewNative(errors.SeverityWarning, errors.KindIo, "Fail to cancel operation %s; operation isn't found", c.Target)
	}
	return nil, nil
}
