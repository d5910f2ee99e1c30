// Package statusserver exposes health, Prometheus metrics and the watched
// repository state over HTTP. A serving process can also answer repository
// commands under /commands, which Client issues on behalf of one-shot CLI runs.
package statusserver
