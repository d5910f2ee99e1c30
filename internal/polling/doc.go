// Package polling runs the notification scan. It compares every local clone
// against the recorded branch pointers, announces new commits to the live
// channels of the repository and only then advances the pointers, so a failed
// delivery is retried on the next cycle. The scan never touches the network.
package polling
