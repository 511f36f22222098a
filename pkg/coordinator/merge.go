package coordinator

import "github.com/sgaunet/s3browse/pkg/dto"

// MergeEntries reconciles the accumulated pages of one fetch into the
// final listing. It deduplicates virtual folders that appeared on more
// than one page and resolves name collisions: when an object shares its
// display key with a virtual folder, the folder wins for navigation and
// the object is kept but flagged AlsoPrefix. Relative entry order is
// preserved otherwise.
func MergeEntries(entries []dto.ListingEntry) []dto.ListingEntry {
	folders := make(map[string]struct{})
	for _, e := range entries {
		if e.IsPrefix {
			folders[e.Key] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	merged := make([]dto.ListingEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsPrefix {
			if _, dup := seen[e.Key]; dup {
				continue
			}
			seen[e.Key] = struct{}{}
			merged = append(merged, e)
			continue
		}
		if _, collides := folders[e.Key+"/"]; collides {
			e.AlsoPrefix = true
		}
		merged = append(merged, e)
	}
	return merged
}
