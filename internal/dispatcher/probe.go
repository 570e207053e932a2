package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"videorelay/pkg/backoff"
)

var probeBackoff = &backoff.Config{Initial: 100 * time.Millisecond, Max: 2 * time.Second}

// probe dials address until a TCP connection succeeds or ctx ends.
func probe(ctx context.Context, address string, logger *slog.Logger) error {
	var dialer net.Dialer
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			conn.Close()
			logger.Debug("Machine accepting connections", "address", address, "attempts", attempt)
			return nil
		}

		if waitErr := backoff.Wait(ctx, attempt, probeBackoff); waitErr != nil {
			return fmt.Errorf("probe %s after %d attempts: %w (last error: %v)", address, attempt, waitErr, err)
		}
	}
}
