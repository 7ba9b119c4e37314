package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-crm/core"
)

func newTestCollections(t *testing.T, cs *crmServer) (*Collections, func()) {
	t.Helper()
	server := httptest.NewServer(cs.handler(t))
	client := newTestClient(t, server, &staticTokens{token: "at_1"})
	collections, err := NewCollections(core.NewCollectionWalker(), client)
	if err != nil {
		server.Close()
		t.Fatalf("new collections: %v", err)
	}
	return collections, server.Close
}

func TestCollections_AllNotesFollowsCursors(t *testing.T) {
	cs := &crmServer{pages: []string{
		`{"results":[{"id":"n1"},{"id":"n2"}],"paging":{"next":{"after":"a1"}}}`,
		`{"results":[{"id":"n3"}]}`,
	}}
	collections, done := newTestCollections(t, cs)
	defer done()

	notes, err := collections.AllNotes(context.Background())
	if err != nil {
		t.Fatalf("all notes: %v", err)
	}
	if len(notes) != 3 || notes[0]["id"] != "n1" || notes[2]["id"] != "n3" {
		t.Fatalf("unexpected notes %#v", notes)
	}
	requests := cs.snapshot()
	if len(requests) != 2 {
		t.Fatalf("expected two page requests, got %d", len(requests))
	}
	if requests[1].query.Get("after") != "a1" {
		t.Fatalf("second page should carry cursor a1, got %v", requests[1].query)
	}
	if got := requests[0].query["associations"]; len(got) != 2 || got[0] != "ticket" {
		t.Fatalf("expected note associations, got %v", got)
	}
}

func TestCollections_AllTicketsUsesSingleItemPages(t *testing.T) {
	cs := &crmServer{pages: []string{
		`{"results":[{"id":"t1"}],"paging":{"next":{"after":"1"}}}`,
		`{"results":[{"id":"t2"}]}`,
	}}
	collections, done := newTestCollections(t, cs)
	defer done()

	tickets, err := collections.AllTickets(context.Background())
	if err != nil {
		t.Fatalf("all tickets: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected two tickets, got %d", len(tickets))
	}
	if got := cs.snapshot()[0].query.Get("limit"); got != "1" {
		t.Fatalf("expected ticket page size 1, got %q", got)
	}
}

func TestCollections_AllTasksRequestsTaskProperties(t *testing.T) {
	cs := &crmServer{pages: []string{`{"results":[{"id":"k1"}]}`}}
	collections, done := newTestCollections(t, cs)
	defer done()

	if _, err := collections.AllTasks(context.Background()); err != nil {
		t.Fatalf("all tasks: %v", err)
	}
	got := cs.snapshot()[0]
	if got.path != "/crm/v3/objects/tasks" || len(got.query["properties"]) != 8 {
		t.Fatalf("unexpected task request %s %v", got.path, got.query)
	}
}

func TestCollections_TicketsForDaysSearchesCreateDate(t *testing.T) {
	cs := &crmServer{pages: []string{`{"results":[{"id":"t1"}]}`}}
	collections, done := newTestCollections(t, cs)
	defer done()
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	collections.now = func() time.Time { return now }

	if _, err := collections.TicketsForDays(context.Background(), 0); err != nil {
		t.Fatalf("tickets for days: %v", err)
	}
	got := cs.snapshot()[0]
	if got.method != http.MethodPost || got.path != "/crm/v3/objects/tickets/search" {
		t.Fatalf("expected search request, got %s %s", got.method, got.path)
	}
	var body struct {
		FilterGroups []struct {
			Filters []struct {
				PropertyName string `json:"propertyName"`
				Operator     string `json:"operator"`
				Value        string `json:"value"`
			} `json:"filters"`
		} `json:"filterGroups"`
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(got.body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	filter := body.FilterGroups[0].Filters[0]
	want := now.Add(-90 * 24 * time.Hour).UnixMilli()
	if filter.PropertyName != "createdate" || filter.Operator != "GTE" || filter.Value != formatMillis(want) {
		t.Fatalf("unexpected filter %#v want value %d", filter, want)
	}
	if body.Limit != 100 {
		t.Fatalf("expected limit 100, got %d", body.Limit)
	}
}

func TestCollections_FirstContact(t *testing.T) {
	cs := &crmServer{pages: []string{`{"results":[{"id":"c1"},{"id":"c2"}]}`}}
	collections, done := newTestCollections(t, cs)
	defer done()

	contact, ok, err := collections.FirstContact(context.Background())
	if err != nil || !ok {
		t.Fatalf("first contact: ok=%v err=%v", ok, err)
	}
	if contact["id"] != "c1" {
		t.Fatalf("expected first contact c1, got %#v", contact)
	}

	empty := &crmServer{pages: []string{`{"results":[]}`}}
	collections, done = newTestCollections(t, empty)
	defer done()
	if _, ok, err := collections.FirstContact(context.Background()); err != nil || ok {
		t.Fatalf("expected no contact, ok=%v err=%v", ok, err)
	}
}

func TestCollections_RepeatedCursorFails(t *testing.T) {
	cs := &crmServer{pages: []string{
		`{"results":[{"id":"n1"}],"paging":{"next":{"after":"a1"}}}`,
		`{"results":[{"id":"n2"}],"paging":{"next":{"after":"a1"}}}`,
	}}
	collections, done := newTestCollections(t, cs)
	defer done()

	notes, err := collections.AllNotes(context.Background())
	if err == nil {
		t.Fatalf("expected repeated cursor failure")
	}
	if notes != nil {
		t.Fatalf("failed walk must not return partial items")
	}
}

func formatMillis(value int64) string {
	raw, _ := json.Marshal(value)
	return string(raw)
}
