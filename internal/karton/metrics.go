package karton

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dohr-michael/karton/internal/broker"
)

// ReadMetrics returns every counter per identity.
func ReadMetrics(ctx context.Context, b broker.Broker) (map[Metric]map[string]int64, error) {
	out := make(map[Metric]map[string]int64, 3)
	for _, m := range Metrics() {
		raw, err := b.HGetAll(ctx, string(m))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m, err)
		}
		counts := make(map[string]int64, len(raw))
		for identity, v := range raw {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			counts[identity] = n
		}
		out[m] = counts
	}
	return out, nil
}
