package orchestrator

import (
	"context"
	"time"
)

// RunRetentionSweep 定期删除超过保留期的终态作业，阻塞直到 ctx 取消
func (o *Orchestrator) RunRetentionSweep(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()

	o.log.Info("retention sweep started", "interval", o.cfg.CleanupInterval, "retention", o.cfg.RetentionPeriod)
	for {
		select {
		case <-ticker.C:
			o.sweepExpired()
		case <-ctx.Done():
			return
		}
	}
}

// sweepExpired 与显式删除走同一路径，返回删除数量
func (o *Orchestrator) sweepExpired() int {
	cutoff := o.now().Add(-o.cfg.RetentionPeriod)
	removed := 0
	for _, j := range o.store.List() {
		if !j.Status.IsTerminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := o.Delete(j.ID); err != nil {
			o.log.Warn("retention sweep failed to delete job", "job_id", j.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		o.log.Info("retention sweep removed jobs", "count", removed)
	}
	return removed
}
