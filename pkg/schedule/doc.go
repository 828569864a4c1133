// Package schedule triggers engine passes on a cron schedule.
//
// Every tick takes the named database lock "ops-engine" so that only one
// process in a cluster runs a pass at a time. A pass stops early enough to
// finish before the lock expires, and the lock is kept for a minimum time
// after the pass so that instances with skewed clocks do not start the same
// tick twice.
package schedule
