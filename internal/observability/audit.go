package observability

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
)

// Audit writes one "audit" record for a privileged mutation. Calls made
// under the ops router also carry its request id.
func Audit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	base := []any{"event", event}
	if id := middleware.GetReqID(ctx); id != "" {
		base = append(base, "request_id", id)
	}
	logger.InfoContext(ctx, "audit", append(base, attrs...)...)
}
