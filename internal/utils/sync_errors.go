package utils

import (
	"errors"
	"syscall"
)

// isUnsupportedSyncError reports sync failures raised by terminals and pipes,
// which cannot be fsynced.
func isUnsupportedSyncError(syncError error) bool {
	return errors.Is(syncError, syscall.ENOTSUP) || errors.Is(syncError, syscall.EINVAL) || errors.Is(syncError, syscall.ENOTTY)
}

// IgnoreUnsupportedSyncError drops sync failures that terminals and pipes always report.
func IgnoreUnsupportedSyncError(syncError error) error {
	if syncError == nil || isUnsupportedSyncError(syncError) {
		return nil
	}
	return syncError
}
