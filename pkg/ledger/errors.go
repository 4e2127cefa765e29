package ledger

// Errors
var (
	ErrNotFound         = &Error{"post not found"}
	ErrConflict         = &Error{"post id already in use"}
	ErrStorageOverflow  = &Error{"post id space exhausted"}
	ErrMigrationPending = &Error{"storage schema migration pending"}
	ErrFutureSchema     = &Error{"storage schema is newer than this build supports"}
	ErrCorruptSlot      = &Error{"malformed value in ledger slot"}
	ErrTxDone           = &Error{"transaction already committed or discarded"}
)

// Error represents a ledger error
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
