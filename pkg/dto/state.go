package dto

import "time"

// FetchState is the lifecycle state of one cached prefix.
type FetchState int

const (
	// NotFetched means no listing has been requested for the prefix yet.
	NotFetched FetchState = iota
	// Fetching means a paginated fetch is in flight.
	Fetching
	// Fresh means the cached entries are a complete listing.
	Fresh
	// Stale means the cached entries may be outdated and will be
	// refetched on next access.
	Stale
	// FetchFailed means the last fetch ended in an error. The entries, if
	// any, are a partial or previous listing.
	FetchFailed
)

func (s FetchState) String() string {
	switch s {
	case NotFetched:
		return "not-fetched"
	case Fetching:
		return "fetching"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case FetchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of one cached prefix. The Entries slice is
// a copy owned by the caller.
type Snapshot struct {
	Remote    string
	Prefix    string
	Entries   []ListingEntry
	State     FetchState
	FetchedAt time.Time
	Err       error
}

// TransferKind identifies the operation a transfer job performs.
type TransferKind int

const (
	TransferUpload TransferKind = iota
	TransferDownload
	TransferDelete
	TransferDeleteFolder
)

func (k TransferKind) String() string {
	switch k {
	case TransferUpload:
		return "upload"
	case TransferDownload:
		return "download"
	case TransferDelete:
		return "delete"
	case TransferDeleteFolder:
		return "delete-folder"
	default:
		return "unknown"
	}
}

// TransferState is the lifecycle state of one transfer job.
type TransferState int

const (
	TransferQueued TransferState = iota
	TransferInProgress
	TransferCompleted
	TransferFailed
	TransferCancelled
)

func (s TransferState) String() string {
	switch s {
	case TransferQueued:
		return "queued"
	case TransferInProgress:
		return "in-progress"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	case TransferCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TransferStatus is a read-only snapshot of one transfer job.
type TransferStatus struct {
	ID         string
	Kind       TransferKind
	Remote     string
	Key        string
	LocalPath  string
	State      TransferState
	BytesDone  int64
	BytesTotal int64
	Reason     string
}
