package agglomerate

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityDrift means the remote store no longer holds exactly the
	// local row and column ids. No write is attempted.
	ErrIdentityDrift = errors.New("agglomerate: identity drift")

	// ErrRemoteWrite means a single cell write failed. The sync stops there.
	ErrRemoteWrite = errors.New("agglomerate: remote write failed")

	// ErrInvalidMode is returned for an unknown write mode.
	ErrInvalidMode = errors.New("agglomerate: invalid mode")
)

// DriftError reports how the local and remote identity sets disagree.
type DriftError struct {
	LocalRows     int
	RemoteRows    int
	LocalColumns  int
	RemoteColumns int
	Fingerprint   uint64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("agglomerate: identity drift: local %d rows x %d columns, remote has %d rows x %d columns of them (fingerprint %016x)",
		e.LocalRows, e.LocalColumns, e.RemoteRows, e.RemoteColumns, e.Fingerprint)
}

func (e *DriftError) Is(target error) bool { return target == ErrIdentityDrift }

// WriteError carries the cell whose remote write failed.
type WriteError struct {
	RowID    int64
	ColumnID int64
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("agglomerate: remote write failed for cell (%d, %d): %v", e.RowID, e.ColumnID, e.Err)
}

func (e *WriteError) Is(target error) bool { return target == ErrRemoteWrite }

func (e *WriteError) Unwrap() error { return e.Err }
