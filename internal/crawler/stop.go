package crawler

import "time"

// Evaluate decides, from a job's counters and the task just processed, whether the job
// should stop. Priority is MaxURLs, then MaxDistance, then Timeout. The job's NumPages
// must reflect the increment made for this task.
//
// Only the locally chosen reason is returned; the persisted reason is whichever
// TryStop call wins.
func Evaluate(job Job, task Task, now time.Time) (StopReason, bool) {
	limits := task.Limits
	if limits.MaxURLs > 0 && job.NumPages >= uint64(limits.MaxURLs) {
		return StopReasonMaxURLs, true
	}
	if task.Distance >= limits.MaxDistance {
		return StopReasonMaxDistance, true
	}
	if now.Sub(job.StartTime) >= time.Duration(limits.MaxSeconds)*time.Second {
		return StopReasonTimeout, true
	}
	return StopReasonNone, false
}
