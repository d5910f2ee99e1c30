// Package execshell runs external processes, git in particular, with
// structured logging and context-bound lifetimes.
//
// ShellExecutor turns non-zero exits into CommandFailedError values, while
// OSCommandRunner kills the child process when its context expires so that
// fetch and clone timeouts are enforced.
package execshell
