// Package activity records authentication and authorization events for the
// admin activity log screen.
package activity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	sharedauth "github.com/tides-platform/console/internal/shared/auth"
	"github.com/tides-platform/console/internal/shared/logger"
)

// Log stores activity entries.
type Log interface {
	Record(ctx context.Context, e Entry) error
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// DenialRecorder writes guard denials to a Log.
type DenialRecorder struct {
	log Log
}

func NewDenialRecorder(l Log) *DenialRecorder {
	return &DenialRecorder{log: l}
}

// RecordDenial implements sharedauth.DenialRecorder. Failures are logged
// and never block the response.
func (r *DenialRecorder) RecordDenial(ctx context.Context, d sharedauth.Denial) {
	e := NewEntry(ActionDenied)
	e.ActorID = d.ActorID
	e.ActorRole = d.ActorRole
	e.SessionID = d.SessionID
	e.Details = map[string]string{
		"kind":   d.Kind,
		"method": d.Method,
		"path":   d.Path,
		"status": statusText(d.Status),
	}
	if len(d.Required) > 0 {
		e.Details["required"] = strings.Join(d.Required, ",")
	}

	if err := r.log.Record(ctx, e); err != nil {
		logger.From(ctx).Warn("failed to record denial", zap.String("path", d.Path), logger.Err(err))
	}
}

func statusText(code int) string {
	switch code {
	case 401:
		return "unauthorized"
	case 403:
		return "forbidden"
	case 404:
		return "not_found"
	default:
		return "denied"
	}
}

var _ sharedauth.DenialRecorder = (*DenialRecorder)(nil)
