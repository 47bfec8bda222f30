package interview

import (
	"time"

	"github.com/kalambet/interviewd/internal/storage"
)

// advance raises r.Status to target. Statuses never move backwards, so
// an administratively set "interviewed" survives every interview call.
func advance(r *storage.Registration, target storage.Status) bool {
	if r.Status.Rank() >= target.Rank() {
		return false
	}
	r.Status = target
	return true
}

// promote moves a processing registration to in_progress and stamps
// StartedAt if it is unset. Other statuses are left alone. Answer and
// NextQuestion go through here.
func promote(r *storage.Registration, now time.Time) bool {
	if r.Status != storage.StatusProcessing {
		return false
	}
	if r.Interview.StartedAt == nil {
		t := now
		r.Interview.StartedAt = &t
	}
	r.Status = storage.StatusInProgress
	return true
}

// begin stamps StartedAt once. A registration that already has a start
// time is not touched, whatever its status.
func begin(r *storage.Registration, now time.Time) bool {
	if r.Interview.StartedAt != nil {
		return false
	}
	if !promote(r, now) {
		t := now
		r.Interview.StartedAt = &t
	}
	return true
}

// finish marks the interview completed. It is a no-op on a completed
// interview so CompletedAt is written once.
func finish(r *storage.Registration, now time.Time) bool {
	if r.Interview.IsCompleted {
		return false
	}
	begin(r, now)
	t := now
	r.Interview.IsCompleted = true
	r.Interview.CompletedAt = &t
	advance(r, storage.StatusCompleted)
	return true
}
