package healthsync

import "errors"

// Common sentinel errors for the healthsync package.
var (
	// ErrClosed is returned when operations are attempted on a closed
	// store, journal, or service.
	ErrClosed = errors.New("healthsync: closed")

	// ErrJournalFull is returned when an append would push the payload
	// journal past its configured size budget.
	ErrJournalFull = errors.New("healthsync: journal is full")

	// ErrNoTransport is returned by New when the configuration carries no
	// transport collaborator.
	ErrNoTransport = errors.New("healthsync: no transport configured")

	// ErrJournalDisabled is returned by ReplayJournal when no journal is
	// configured.
	ErrJournalDisabled = errors.New("healthsync: journal not enabled")
)
