package coordinator

import (
	"reflect"
	"testing"

	"github.com/sgaunet/s3browse/pkg/dto"
)

func TestMergeEntries_DeduplicatesFolders(t *testing.T) {
	in := []dto.ListingEntry{
		{Key: "a/", IsPrefix: true},
		{Key: "a/", IsPrefix: true},
		{Key: "b.txt"},
	}
	got := MergeEntries(in)
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].Key != "a/" || got[1].Key != "b.txt" {
		t.Errorf("unexpected merge result %v", got)
	}
}

func TestMergeEntries_FlagsCollidingObjects(t *testing.T) {
	in := []dto.ListingEntry{
		{Key: "data/", IsPrefix: true},
		{Key: "data", Size: 4},
		{Key: "other"},
	}
	got := MergeEntries(in)
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	if !got[1].AlsoPrefix {
		t.Error("object sharing its name with a folder must be flagged")
	}
	if got[2].AlsoPrefix {
		t.Error("non-colliding object must not be flagged")
	}
}

// The merged entry set is the same no matter how pages split the listing.
func TestMergeEntries_PageSizeIndependent(t *testing.T) {
	entries := []dto.ListingEntry{
		{Key: "a/", IsPrefix: true},
		{Key: "b/", IsPrefix: true},
		{Key: "a", Size: 1},
		{Key: "c.txt", Size: 2},
		{Key: "d.txt", Size: 3},
	}

	onePage := MergeEntries(append([]dto.ListingEntry(nil), entries...))

	// Simulate the same listing arriving over three pages, with a folder
	// repeated across page boundaries.
	var paged []dto.ListingEntry
	paged = append(paged, entries[0], entries[1])
	paged = append(paged, entries[1], entries[2], entries[3])
	paged = append(paged, entries[4])
	threePages := MergeEntries(paged)

	if !reflect.DeepEqual(onePage, threePages) {
		t.Errorf("merge must be page-size independent:\none page: %v\nthree pages: %v", onePage, threePages)
	}
}

func TestMergeEntries_Empty(t *testing.T) {
	if got := MergeEntries(nil); len(got) != 0 {
		t.Errorf("Expected empty result, got %v", got)
	}
}
