package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pathflow/controller"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 200 * time.Millisecond
)

// InstallFailure is the first failure of a compiled unit: which installation
// broke and why.
type InstallFailure struct {
	Installation RuleInstallation
	Err          error
}

// Report is the typed outcome of applying one compiled unit. Succeeded,
// Failed and NotAttempted partition the input in order.
type Report struct {
	Succeeded    []RuleInstallation
	Failed       *InstallFailure
	NotAttempted []RuleInstallation
}

func (r *Report) OK() bool { return r.Failed == nil }

// Orchestrator drives rule installation against the controller. Installs are
// issued strictly in compiled order; transient failures are retried with
// backoff, a permanent rejection aborts the remainder of the unit. One
// global mutex serializes overlapping Apply calls so concurrent convergence
// attempts can never interleave their installs.
type Orchestrator struct {
	client     controller.Client
	mu         sync.Mutex
	maxRetries int
	backoff    time.Duration
}

func NewOrchestrator(client controller.Client) *Orchestrator {
	return &Orchestrator{
		client:     client,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
}

// Apply installs every rule of a compiled unit. Installation is idempotent
// at the controller, so reapplying an identical unit is safe. Cancellation
// is honored between installs; an in-flight controller call is allowed to
// complete.
func (o *Orchestrator) Apply(ctx context.Context, installs []RuleInstallation) *Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &Report{}
	for i, inst := range installs {
		if err := ctx.Err(); err != nil {
			report.Failed = &InstallFailure{Installation: inst, Err: err}
			report.NotAttempted = append(report.NotAttempted, installs[i+1:]...)
			return report
		}
		if err := o.installOne(ctx, inst); err != nil {
			log.Warnf("install aborted at %s (%s hop %d): %v", inst.DeviceID, inst.Direction, inst.Hop, err)
			report.Failed = &InstallFailure{Installation: inst, Err: err}
			report.NotAttempted = append(report.NotAttempted, installs[i+1:]...)
			return report
		}
		report.Succeeded = append(report.Succeeded, inst)
	}
	return report
}

// RemoveRules deletes every installed rule on the device that matches. Only
// rules with a controller-assigned ID can be removed; removal shares the
// orchestration mutex so it never interleaves with an Apply. Returns how many
// rules were removed before the first failure, if any.
func (o *Orchestrator) RemoveRules(ctx context.Context, deviceID string, match func(controller.RuleSpec) bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rules, err := o.client.ListInstalledRules(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rule := range rules {
		if rule.ID == "" || !match(rule) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := o.client.DeleteRule(ctx, deviceID, rule.ID); err != nil {
			log.Warnf("removing rule %s from %s failed: %v", rule.ID, deviceID, err)
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (o *Orchestrator) installOne(ctx context.Context, inst RuleInstallation) error {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}
		err := o.client.InstallRule(ctx, inst.DeviceID, inst.Rule)
		if err == nil {
			return nil
		}
		lastErr = err

		var installErr *controller.InstallError
		if errors.As(err, &installErr) && installErr.Transient {
			log.Warnf("transient install failure on %s (attempt %d/%d): %v",
				inst.DeviceID, attempt+1, o.maxRetries+1, err)
			continue
		}
		return err
	}
	return lastErr
}
