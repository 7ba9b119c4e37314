package hubspot

import (
	"github.com/goliatone/go-crm/core"
)

const (
	ResourceNotes    core.ResourceType = "notes"
	ResourceTasks    core.ResourceType = "tasks"
	ResourceTickets  core.ResourceType = "tickets"
	ResourceContacts core.ResourceType = "contacts"
)

// Resource describes the default request shape for one CRM object type.
type Resource struct {
	Type         core.ResourceType
	PageSize     int
	Properties   []string
	Associations []string
}

// Request returns a fresh first page request for the resource.
func (r Resource) Request() core.PagedRequest {
	return core.PagedRequest{
		Resource:     r.Type,
		PageSize:     r.PageSize,
		Properties:   append([]string(nil), r.Properties...),
		Associations: append([]string(nil), r.Associations...),
	}
}

var catalog = map[core.ResourceType]Resource{
	ResourceNotes: {
		Type:         ResourceNotes,
		PageSize:     100,
		Properties:   []string{"hs_note_body", "hs_timestamp", "hs_attachment_ids", "hubspot_owner_id"},
		Associations: []string{"ticket", "contact"},
	},
	ResourceTasks: {
		Type:     ResourceTasks,
		PageSize: 100,
		Properties: []string{
			"hs_timestamp", "hs_task_body", "hubspot_owner_id", "hs_task_subject",
			"hs_task_status", "hs_task_priority", "hs_task_type", "hs_task_reminders",
		},
		Associations: []string{"ticket", "contact"},
	},
	// Tickets are listed one per page upstream; keep that shape.
	ResourceTickets: {
		Type:     ResourceTickets,
		PageSize: 1,
		Properties: []string{
			"subject", "content", "hs_pipeline", "hs_pipeline_stage",
			"hs_ticket_category", "hs_ticket_priority",
		},
		Associations: []string{"note", "email", "call", "task", "meeting"},
	},
	ResourceContacts: {
		Type:       ResourceContacts,
		PageSize:   100,
		Properties: []string{"firstname", "lastname", "email"},
	},
}

// LookupResource returns the catalog entry for resource.
func LookupResource(resource core.ResourceType) (Resource, bool) {
	entry, ok := catalog[resource]
	if !ok {
		return Resource{}, false
	}
	entry.Properties = append([]string(nil), entry.Properties...)
	entry.Associations = append([]string(nil), entry.Associations...)
	return entry, true
}
