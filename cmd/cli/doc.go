// Package cli constructs the gitnotify command-line interface, wiring the
// Cobra command hierarchy, the configuration store and structured logging.
// It exposes helpers to build application instances and to execute the
// default command set.
package cli
