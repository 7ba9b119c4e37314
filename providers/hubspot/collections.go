package hubspot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goliatone/go-crm/core"
)

// DefaultTicketWindowDays is the look back used by TicketsForDays when the
// caller passes a non positive day count.
const DefaultTicketWindowDays = 90

// Fetcher walks a paged collection. *core.Service and *core.CollectionWalker
// both satisfy it.
type Fetcher interface {
	FetchAll(ctx context.Context, fetch core.PageFetchFunc, req core.PagedRequest) ([]core.Record, error)
}

// Collections exposes the CRM object reads used by the application.
type Collections struct {
	fetcher Fetcher
	client  *Client
	now     func() time.Time
}

func NewCollections(fetcher Fetcher, client *Client) (*Collections, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("hubspot: collection fetcher is required")
	}
	if client == nil {
		return nil, fmt.Errorf("hubspot: client is required")
	}
	return &Collections{fetcher: fetcher, client: client, now: time.Now}, nil
}

func (c *Collections) AllNotes(ctx context.Context) ([]core.Record, error) {
	return c.all(ctx, ResourceNotes)
}

func (c *Collections) AllTasks(ctx context.Context) ([]core.Record, error) {
	return c.all(ctx, ResourceTasks)
}

func (c *Collections) AllTickets(ctx context.Context) ([]core.Record, error) {
	return c.all(ctx, ResourceTickets)
}

// TicketsForDays returns tickets created within the last days days, oldest
// first.
func (c *Collections) TicketsForDays(ctx context.Context, days int) ([]core.Record, error) {
	if days <= 0 {
		days = DefaultTicketWindowDays
	}
	since := c.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	req := core.PagedRequest{
		Resource:   ResourceTickets,
		PageSize:   100,
		Properties: mustResource(ResourceTickets).Properties,
		FilterGroups: []core.FilterGroup{{Filters: []core.Filter{{
			Property: "createdate",
			Operator: core.FilterGTE,
			Value:    strconv.FormatInt(since.UnixMilli(), 10),
		}}}},
		Sorts: []core.Sort{{Property: "createdate", Direction: core.SortAscending}},
	}
	return c.fetcher.FetchAll(ctx, c.client.FetchPage, req)
}

// FirstContact returns the first contact of the account. The boolean is false
// when the account has none.
func (c *Collections) FirstContact(ctx context.Context) (core.Record, bool, error) {
	contacts, err := c.all(ctx, ResourceContacts)
	if err != nil {
		return nil, false, err
	}
	if len(contacts) == 0 {
		return nil, false, nil
	}
	return contacts[0], true, nil
}

func (c *Collections) all(ctx context.Context, resource core.ResourceType) ([]core.Record, error) {
	return c.fetcher.FetchAll(ctx, c.client.FetchPage, mustResource(resource).Request())
}

func mustResource(resource core.ResourceType) Resource {
	entry, ok := LookupResource(resource)
	if !ok {
		panic("hubspot: unknown resource " + string(resource))
	}
	return entry
}
