package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal probe each backend client exposes for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecks bundles the three backend probes for the ops server.
type ReadinessChecks struct {
	Queue   Pinger
	Records Pinger
	Blobs   Pinger
}

// Check pings every backend and returns the first failure, labelled.
func (r ReadinessChecks) Check(ctx context.Context) error {
	probes := []struct {
		name string
		p    Pinger
	}{
		{"queue", r.Queue},
		{"records", r.Records},
		{"blobs", r.Blobs},
	}
	for _, probe := range probes {
		if probe.p == nil {
			return fmt.Errorf("%s not configured", probe.name)
		}
		if err := probe.p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", probe.name, err)
		}
	}
	return nil
}
