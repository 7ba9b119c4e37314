package core

import (
	"reflect"
	"testing"
	"time"
)

func TestTokenPair_CacheTTL(t *testing.T) {
	pair := TokenPair{AccessToken: "a", ExpiresIn: 1800 * time.Second}
	if got := pair.CacheTTL(0.75); got != 1350*time.Second {
		t.Fatalf("expected 1350s, got %s", got)
	}
	if got := (TokenPair{AccessToken: "a"}).CacheTTL(0.75); got != 0 {
		t.Fatalf("expected zero ttl without expiry, got %s", got)
	}
}

func TestPagedRequest_Normalized(t *testing.T) {
	req := PagedRequest{
		Resource:   " notes ",
		Properties: []string{"b", "a", "b", ""},
	}
	got := req.Normalized(25, 100)
	if got.Resource != "notes" {
		t.Fatalf("expected trimmed resource, got %q", got.Resource)
	}
	if got.PageSize != 25 {
		t.Fatalf("expected default page size, got %d", got.PageSize)
	}
	if !reflect.DeepEqual(got.Properties, []string{"a", "b"}) {
		t.Fatalf("unexpected properties %v", got.Properties)
	}
	if got := (PagedRequest{PageSize: 250}).Normalized(25, 100); got.PageSize != 100 {
		t.Fatalf("expected clamped page size, got %d", got.PageSize)
	}
	if got := (PagedRequest{}).Normalized(0, 0); got.PageSize != 1 {
		t.Fatalf("expected minimum page size 1, got %d", got.PageSize)
	}
}

func TestPagedRequest_WithCursorDoesNotAlias(t *testing.T) {
	req := PagedRequest{
		Properties:   []string{"subject"},
		FilterGroups: []FilterGroup{{Filters: []Filter{{Property: "p", Operator: FilterIn, Values: []string{"1"}}}}},
	}
	next := req.WithCursor("c1")
	next.Properties[0] = "changed"
	next.FilterGroups[0].Filters[0].Values[0] = "2"
	if req.Properties[0] != "subject" || req.FilterGroups[0].Filters[0].Values[0] != "1" {
		t.Fatalf("cursor copy mutated the original request")
	}
	if !req.Cursor.IsZero() || next.Cursor != "c1" {
		t.Fatalf("unexpected cursors %q %q", req.Cursor, next.Cursor)
	}
}

func TestPagedRequest_IsSearch(t *testing.T) {
	if (PagedRequest{}).IsSearch() {
		t.Fatalf("plain list request is not a search")
	}
	if !(PagedRequest{Sorts: []Sort{{Property: "createdate", Direction: SortDescending}}}).IsSearch() {
		t.Fatalf("sorted request needs search")
	}
}

func TestFilterOperator_Valid(t *testing.T) {
	if !FilterBetween.Valid() || !FilterNotContainsToken.Valid() {
		t.Fatalf("expected known operators to be valid")
	}
	if FilterOperator("LIKE").Valid() {
		t.Fatalf("unknown operator must be invalid")
	}
}
