package mint

import (
	"context"
	"log/slog"
)

// Notifier observes requests started with Service.Mint and every wipe.
// Methods are called from the goroutine running the request.
type Notifier interface {
	Started(ctx context.Context, rec RequestRecord)
	Step(ctx context.Context, id, message string, progress float64)
	Completed(ctx context.Context, id string, res Result)
	Wiped(ctx context.Context, rec RequestRecord)
	Failed(ctx context.Context, id string, err error)
}

// LogNotifier reports request progress through slog.
type LogNotifier struct{}

func (LogNotifier) Started(ctx context.Context, rec RequestRecord) {
	slog.InfoContext(ctx, string(rec.Kind)+" started",
		"request", rec.ID,
		"token_id", rec.TokenID,
		"amount", rec.Requested,
	)
}

func (LogNotifier) Step(ctx context.Context, id, message string, progress float64) {
	slog.DebugContext(ctx, message, "request", id, "progress", progress)
}

func (LogNotifier) Completed(ctx context.Context, id string, res Result) {
	level := slog.LevelInfo
	if res.Short() > 0 {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "mint completed",
		"request", id,
		"requested", res.Requested,
		"minted", res.Minted,
		"transferred", res.Transferred,
		"failures", res.Failures,
		"provenance", res.ProvenanceID,
	)
}

func (LogNotifier) Wiped(ctx context.Context, rec RequestRecord) {
	slog.InfoContext(ctx, "wipe completed",
		"request", rec.ID,
		"token_id", rec.TokenID,
		"account", rec.Target,
		"amount", rec.Requested,
		"provenance", rec.ProvenanceID,
	)
}

func (LogNotifier) Failed(ctx context.Context, id string, err error) {
	slog.ErrorContext(ctx, "request failed", "request", id, "error", err)
}
