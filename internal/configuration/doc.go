// Package configuration defines the typed gitnotify settings, validates them
// eagerly after loading, converts repository entries into repository options
// and writes the repository list back to the configuration file after the
// registry changes.
package configuration
