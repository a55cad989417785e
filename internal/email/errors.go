package email

import "errors"

var (
	// ErrSyncInProgress is returned when a sync is requested while another run holds the lock
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrAccountNotFound is returned when the owner email has no local account
	ErrAccountNotFound = errors.New("account not found")

	// ErrConnect wraps connection and login failures against the remote mailbox
	ErrConnect = errors.New("mailbox connection failed")
)
