// Package watch assembles the registry, the replication and polling loops and
// the operator commands (add, remove, list, log, status, snarf, rehash) into
// one service. Commands answer with reply lines and a result code.
package watch
