// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// classify wraps a Client4 failure with the matching bridge error. missing
// is used for 400 and 404 responses, since what is missing depends on the
// object the call addressed.
func classify(ctx context.Context, resp *model.Response, err error, missing error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", bridge.ErrTimeout, err)
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	var appErr *model.AppError
	if status == 0 && errors.As(err, &appErr) {
		status = appErr.StatusCode
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", bridge.ErrPermissionDenied, err)
	case status == http.StatusNotFound, status == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", missing, err)
	default:
		return fmt.Errorf("%w: %w", bridge.ErrUnreachable, err)
	}
}
