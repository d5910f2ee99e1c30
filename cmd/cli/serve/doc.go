// Package serve provides the long-running serve command: it starts the fetch
// and poll loops, the optional status server, and reloads configuration on
// SIGHUP until interrupted.
package serve
