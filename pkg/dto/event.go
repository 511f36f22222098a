package dto

// EventKind identifies what changed.
type EventKind int

const (
	// ListingUpdated is emitted when a cached prefix gains new entries or
	// completes a fetch.
	ListingUpdated EventKind = iota
	// ListingInvalidated is emitted when a cached prefix is marked stale
	// or purged.
	ListingInvalidated
	// TransferUpdated is emitted when a transfer job changes state or
	// reports progress.
	TransferUpdated
)

// Event is a change notification. Listing events carry Remote and Prefix,
// transfer events carry Remote and JobID.
type Event struct {
	Kind   EventKind
	Remote string
	Prefix string
	JobID  string
}
