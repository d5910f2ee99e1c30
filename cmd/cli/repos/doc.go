// Package repos provides the Cobra commands that add, remove and inspect
// watched repositories and look up commits mentioned in conversation.
// Replies are printed one line per row; failed replies surface as ReplyError
// so the entrypoint can map them to exit codes.
package repos
