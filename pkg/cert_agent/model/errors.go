package model

import (
	"errors"
	"fmt"
)

var ErrInvalidParameter = errors.New("")  // Base error for invalid parameter
var ErrStorageError = errors.New("")      // Base error for certificate storage
var ErrCAError = errors.New("")           // Base error for the CA exchange
var ErrReloadError = errors.New("")       // Base error for the reload action
var ErrRollbackError = errors.New("")     // Base error for rollback
var ErrNotificationError = errors.New("") // Base error for notification delivery

// Storage errors
var ErrCertNotFound = fmt.Errorf("certificate not found%w", ErrStorageError)
var ErrStorageIO = fmt.Errorf("storage io failure%w", ErrStorageError)
var ErrVerifyFailed = fmt.Errorf("deployed certificate failed verification%w", ErrStorageError)

// Rollback errors
var ErrBackupNotFound = fmt.Errorf("backup not found%w", ErrRollbackError)

// CA errors
var ErrCAUnreachable = fmt.Errorf("certificate authority unreachable%w", ErrCAError)
var ErrCAAuthorizationFailed = fmt.Errorf("certificate authority rejected the identifier%w", ErrCAError)
var ErrCARateLimited = fmt.Errorf("certificate authority rate limited the request%w", ErrCAError)
var ErrCAMalformedResponse = fmt.Errorf("malformed certificate authority response%w", ErrCAError)
var ErrCAUntrustedServer = fmt.Errorf("certificate authority identity mismatch%w", ErrCAError)

// Reload errors
var ErrReloadTimeout = fmt.Errorf("reload command timed out%w", ErrReloadError)
var ErrReloadNonZeroExit = fmt.Errorf("reload command exited with non-zero status%w", ErrReloadError)
var ErrReloadSpawnFailed = fmt.Errorf("reload command could not be started%w", ErrReloadError)

// Notification errors
var ErrWebhookUnreachable = fmt.Errorf("webhook unreachable%w", ErrNotificationError)

// IsRetryableCAError reports whether a failed CA exchange may be retried
// within the same cycle. Authorization rejections and identity mismatches
// need operator action and are never retried automatically.
func IsRetryableCAError(err error) bool {
	return errors.Is(err, ErrCAUnreachable) ||
		errors.Is(err, ErrCARateLimited) ||
		errors.Is(err, ErrCAMalformedResponse)
}
