package mockup

import (
	"context"
	"time"
)

// Poll calls fetch immediately and then every interval until it returns at
// least one item, returns an error, or ctx is done.
func Poll[T any](ctx context.Context, interval time.Duration, fetch func(context.Context) ([]T, error)) ([]T, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
