// Package metrics records watcher activity as Prometheus metrics on a private
// registry served by the status server.
package metrics
