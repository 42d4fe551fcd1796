package monitor

import "time"

// Cleaner enforces retention on run logs and resolved errors.
type Cleaner struct {
	runLogs  *RunLogStore
	errStore *ErrorStore
}

// NewCleaner creates a cleaner.
func NewCleaner(runLogs *RunLogStore, errStore *ErrorStore) *Cleaner {
	return &Cleaner{runLogs: runLogs, errStore: errStore}
}

// Run deletes run logs older than runLogDays and resolved errors older than
// resolvedDays. A non-positive retention disables that side of the cleanup.
func (c *Cleaner) Run(now time.Time, runLogDays, resolvedDays int) (logsDeleted, errorsDeleted int, err error) {
	if runLogDays > 0 {
		cutoff := now.AddDate(0, 0, -runLogDays)
		logsDeleted, err = c.runLogs.DeleteBefore(cutoff)
		if err != nil {
			return logsDeleted, 0, err
		}
	}

	if resolvedDays > 0 {
		cutoff := now.AddDate(0, 0, -resolvedDays)
		errorsDeleted, err = c.errStore.DeleteResolvedBefore(cutoff)
		if err != nil {
			return logsDeleted, errorsDeleted, err
		}
	}

	return logsDeleted, errorsDeleted, nil
}
