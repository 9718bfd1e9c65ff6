package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river/rivertype"

	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/internal/service"
)

// DefaultQueueDepthInterval is how often the embed_media queue depth is sampled.
const DefaultQueueDepthInterval = 15 * time.Second

// queryRower is satisfied by *pgxpool.Pool.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunQueueDepthPoller periodically updates the embed_media queue depth gauge until ctx is done.
func RunQueueDepthPoller(ctx context.Context, db queryRower, metrics observability.JobMetrics, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultQueueDepthInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	update := func() {
		count, err := queueDepth(ctx, db)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		metrics.SetRiverQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func queueDepth(ctx context.Context, db queryRower) (int, error) {
	var count int

	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
		service.EmbeddingsQueueName,
		rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
	).Scan(&count)

	return count, err
}
