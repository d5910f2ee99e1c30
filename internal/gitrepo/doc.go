// Package gitrepo implements the vcs collaborator on top of the git command
// line through execshell. Every invocation disables interactive credential
// prompts and runs under the caller's context, so fetch timeouts kill the git
// process instead of leaving it running.
//
// The package also parses remote URLs, which the watcher uses to derive a
// display name for repositories configured without one.
package gitrepo
