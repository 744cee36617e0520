package poller

// Snapshot is the raw result of one progress query against a task's target.
type Snapshot struct {
	// IndicatorVisible reports whether any progress indicator exists for
	// the target right now.
	IndicatorVisible bool
	// HasPercent reports whether a numeric percentage could be read.
	HasPercent bool
	Percent    int
}

// Class is the interpretation of a snapshot for one task.
type Class string

const (
	// ClassDownloading carries a numeric percentage.
	ClassDownloading Class = "downloading"
	// ClassPreparing is a non-numeric activity hint: either an indicator
	// without a readable percent, or an indicator that was seen before and
	// disappeared while the task is still unbound.
	ClassPreparing Class = "preparing"
	// ClassReady means no activity has been detected yet.
	ClassReady Class = "ready"
	// ClassUnknown means the snapshot supports no conclusion.
	ClassUnknown Class = "unknown"
)

// Classify interprets a snapshot in the context of what the task has already
// shown. sawProgress is the task's latched progress signal; bound reports
// whether a download event is bound to the task.
func Classify(s Snapshot, sawProgress, bound bool) Class {
	switch {
	case s.HasPercent:
		return ClassDownloading
	case s.IndicatorVisible:
		return ClassPreparing
	case sawProgress && !bound:
		// Indicator seen before, gone now, and no event bound yet: the
		// transfer is being handed off, not finished. Completion comes
		// only from the subsystem's terminal notification.
		return ClassPreparing
	case !sawProgress:
		return ClassReady
	default:
		return ClassUnknown
	}
}
