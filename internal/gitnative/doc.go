// Package gitnative implements the vcs collaborator in-process with go-git.
// It needs no git binary for history queries; clones and fetches from local
// paths still go through go-git's file transport.
package gitnative
