// Package replication runs the background loop that brings every local clone
// up to date with its remote.
//
// The loop never waits for a repository lock: a busy repository is skipped
// and retried on the next pass. Failures, timeouts included, are recorded on
// the repository for the poller to report and never stop the loop.
package replication
