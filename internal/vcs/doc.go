// Package vcs defines the version-control collaborator used by the watcher:
// the Commit value rendered into notifications and the Client and Repository
// interfaces implemented by the git CLI backend (gitrepo) and the in-process
// go-git backend (gitnative).
package vcs
