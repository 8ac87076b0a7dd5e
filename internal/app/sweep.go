package app

import (
	"context"

	"github.com/storably/overstay/jobs"
)

// SweepTrigger adapts the jobs client to the overstay handler's trigger
// port.
type SweepTrigger struct {
	client *jobs.Client
}

// NewSweepTrigger wraps a jobs client.
func NewSweepTrigger(client *jobs.Client) *SweepTrigger {
	return &SweepTrigger{client: client}
}

// TriggerSweep enqueues an on-demand detection sweep.
func (t *SweepTrigger) TriggerSweep(ctx context.Context) error {
	_, err := t.client.EnqueueDetect(ctx, "manual")
	return err
}
