// Package dto provides data transfer objects shared by the browsing core.
package dto

import "time"

// ListingEntry is one child under a queried prefix: either a real object
// or a virtual folder synthesized from a common prefix.
type ListingEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastmodified"`
	ETag         string    `json:"etag"`
	// IsPrefix marks a virtual folder. Key then ends with the delimiter.
	IsPrefix bool `json:"isprefix"`
	// AlsoPrefix marks an object whose display name collides with a
	// virtual folder in the same listing. The folder entry takes
	// precedence for navigation.
	AlsoPrefix bool `json:"alsoprefix,omitempty"`
}

// Name returns the display name of the entry relative to its parent prefix.
func (e ListingEntry) Name(parentPrefix string) string {
	name := e.Key
	if len(parentPrefix) > 0 && len(name) > len(parentPrefix) && name[:len(parentPrefix)] == parentPrefix {
		name = name[len(parentPrefix):]
	}
	if e.IsPrefix && len(name) > 0 && name[len(name)-1] == '/' {
		name = name[:len(name)-1]
	}
	return name
}

// ListingPage is one page of a paginated listing as returned by the store.
// Entries keep the order the store returned them in.
type ListingPage struct {
	Entries               []ListingEntry `json:"entries"`
	NextContinuationToken string         `json:"nextcontinuationtoken,omitempty"`
	IsTruncated           bool           `json:"istruncated"`
}
