// Package checkpoint persists the last notified commit of every watched branch
// so a restarted watcher reports the commits that arrived while it was down.
package checkpoint
