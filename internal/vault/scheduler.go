package vault

import "context"

// SchedulerStatus reports whether the vault's background drivers are
// currently running.
type SchedulerStatus struct {
	Running bool
}

// StartScheduler launches the synthesis/utility/orphan/inactivity
// drivers. Calling it again while already running is a no-op.
func (v *Vault) StartScheduler(ctx context.Context) {
	v.scheduler.Start(ctx)
}

// StopScheduler cancels all drivers and waits for them to return.
func (v *Vault) StopScheduler() {
	v.scheduler.Stop()
}

// GetSchedulerStatus reports the scheduler's current run state.
func (v *Vault) GetSchedulerStatus() SchedulerStatus {
	return SchedulerStatus{Running: v.scheduler.Running()}
}

// TriggerSynthesisProcessing drains one batch of the synthesis queue
// immediately, without disturbing the periodic driver's schedule.
func (v *Vault) TriggerSynthesisProcessing(ctx context.Context) {
	v.scheduler.TriggerSynthesis(ctx)
}

// TriggerUtilityUpdate runs the retrospective utility pass immediately.
func (v *Vault) TriggerUtilityUpdate(ctx context.Context) {
	v.scheduler.TriggerUtilityUpdate(ctx)
}

// TriggerOrphanCheck runs the orphan sweep immediately.
func (v *Vault) TriggerOrphanCheck(ctx context.Context) {
	v.scheduler.TriggerOrphanSweep(ctx)
}

// TriggerInactivityCheck runs the inactivity-timeout sweep immediately,
// auto-ending and enqueuing any conversation idle past the timeout.
func (v *Vault) TriggerInactivityCheck(ctx context.Context) {
	v.scheduler.TriggerInactivityTimeout(ctx)
}
