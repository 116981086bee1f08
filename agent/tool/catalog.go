package tool

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
)

// Domain namespaces. Each worker owns exactly one; the descriptors declare
// the tool surface the model sees, while the handlers are injected by the
// process wiring (the domain services themselves live outside this repo).
const (
	NamespaceServiceNow = "servicenow"
	NamespaceIntune     = "intune"
	NamespaceM365       = "m365"
	NamespaceOutlook    = "outlook"
	NamespaceAccess     = "access"
	NamespaceWorkflow   = "workflow"
	NamespaceKnowledge  = "knowledge"
)

// Backend maps tool names (without namespace prefix) to handlers. Tools
// without a backend entry fall back to an "unavailable" error payload so a
// partially wired process still answers coherently.
type Backend map[string]Handler

func (b Backend) handlerFor(namespace, name string) Handler {
	if h, ok := b[name]; ok && h != nil {
		return h
	}
	return func(ctx context.Context, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("tool %s.%s is unavailable", namespace, name)
	}
}

type catalogEntry struct {
	name        string
	description string
	params      map[string]contractx.Param
}

// RegisterCatalog registers a namespace's declared tool set against the
// supplied backend.
func RegisterCatalog(reg *Registry, namespace string, backend Backend) error {
	entries, ok := catalogs[namespace]
	if !ok {
		return fmt.Errorf("unknown tool namespace %q", namespace)
	}
	for _, e := range entries {
		d := Descriptor{
			Name:        e.name,
			Description: e.description,
			Params:      e.params,
			Handler:     backend.handlerFor(namespace, e.name),
		}
		if err := reg.Register(namespace, d); err != nil {
			return err
		}
	}
	return nil
}

var catalogs = map[string][]catalogEntry{
	NamespaceServiceNow: {
		{
			name:        "create_ticket",
			description: "Create a new IT incident ticket.",
			params: map[string]contractx.Param{
				"title":       {Type: contractx.ParamString, Description: "Short summary of the issue", Required: true},
				"description": {Type: contractx.ParamString, Description: "Full issue description"},
				"priority":    {Type: contractx.ParamString, Description: "Low, Medium, High, or Critical", Required: true},
				"caller":      {Type: contractx.ParamString, Description: "Email of the affected user"},
			},
		},
		{
			name:        "get_ticket",
			description: "Fetch ticket details by id.",
			params: map[string]contractx.Param{
				"ticket_id": {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "search_tickets",
			description: "Search tickets by status, priority, or free text.",
			params: map[string]contractx.Param{
				"query":    {Type: contractx.ParamString, Description: "Free text filter"},
				"status":   {Type: contractx.ParamString, Description: "Open, InProgress, Resolved, Closed"},
				"priority": {Type: contractx.ParamString},
			},
		},
		{
			name:        "update_ticket_status",
			description: "Move a ticket to a new status.",
			params: map[string]contractx.Param{
				"ticket_id": {Type: contractx.ParamString, Required: true},
				"status":    {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "add_work_note",
			description: "Append a work note to a ticket.",
			params: map[string]contractx.Param{
				"ticket_id": {Type: contractx.ParamString, Required: true},
				"note":      {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "escalate_ticket",
			description: "Escalate ticket priority with a reason.",
			params: map[string]contractx.Param{
				"ticket_id": {Type: contractx.ParamString, Required: true},
				"reason":    {Type: contractx.ParamString, Required: true},
			},
		},
	},
	NamespaceIntune: {
		{
			name:        "provision_device",
			description: "Enroll a new device for a user.",
			params: map[string]contractx.Param{
				"serial_number": {Type: contractx.ParamString, Required: true},
				"user_email":    {Type: contractx.ParamString, Required: true},
				"profile_name":  {Type: contractx.ParamString, Description: "Enrollment profile, default Standard"},
			},
		},
		{
			name:        "get_device_profile",
			description: "Fetch device details and compliance state.",
			params: map[string]contractx.Param{
				"device_id": {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "list_devices",
			description: "List managed devices, optionally filtered by owner or status.",
			params: map[string]contractx.Param{
				"user_email": {Type: contractx.ParamString},
				"status":     {Type: contractx.ParamString},
			},
		},
		{
			name:        "update_device_status",
			description: "Set a device's management status.",
			params: map[string]contractx.Param{
				"device_id": {Type: contractx.ParamString, Required: true},
				"status":    {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "wipe_device",
			description: "Wipe device data. Requires confirmation=true; without it the call fails and the user must confirm.",
			params: map[string]contractx.Param{
				"device_id":    {Type: contractx.ParamString, Required: true},
				"admin_email":  {Type: contractx.ParamString, Required: true},
				"confirmation": {Type: contractx.ParamBoolean, Description: "Must be true to proceed"},
			},
		},
	},
	NamespaceM365: {
		{
			name:        "create_user",
			description: "Create a new user account.",
			params: map[string]contractx.Param{
				"email":    {Type: contractx.ParamString, Required: true},
				"username": {Type: contractx.ParamString, Required: true},
				"role":     {Type: contractx.ParamString, Description: "Default role: user"},
			},
		},
		{
			name:        "list_users",
			description: "List users, optionally filtered by status or role.",
			params: map[string]contractx.Param{
				"status": {Type: contractx.ParamString},
				"role":   {Type: contractx.ParamString},
			},
		},
		{
			name:        "deactivate_user",
			description: "Deactivate a user account.",
			params: map[string]contractx.Param{
				"user_email": {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "assign_license",
			description: "Assign a license SKU to a user.",
			params: map[string]contractx.Param{
				"user_email":  {Type: contractx.ParamString, Required: true},
				"license_sku": {Type: contractx.ParamString, Required: true},
			},
		},
	},
	NamespaceOutlook: {
		{
			name:        "send_email",
			description: "Send an email on the user's behalf.",
			params: map[string]contractx.Param{
				"sender":    {Type: contractx.ParamString, Required: true},
				"recipient": {Type: contractx.ParamString, Required: true},
				"subject":   {Type: contractx.ParamString, Required: true},
				"body":      {Type: contractx.ParamString, Required: true},
			},
		},
		{
			name:        "get_emails",
			description: "List emails for a recipient, optionally filtered by read status.",
			params: map[string]contractx.Param{
				"recipient": {Type: contractx.ParamString},
				"status":    {Type: contractx.ParamString, Description: "read or unread"},
			},
		},
		{
			name:        "reply_to_email",
			description: "Reply to an email by id.",
			params: map[string]contractx.Param{
				"email_id":  {Type: contractx.ParamString, Required: true},
				"body":      {Type: contractx.ParamString, Required: true},
				"reply_all": {Type: contractx.ParamBoolean},
			},
		},
		{
			name:        "mark_read",
			description: "Mark an email as read.",
			params: map[string]contractx.Param{
				"email_id": {Type: contractx.ParamString, Required: true},
			},
		},
	},
	NamespaceAccess: {
		{
			name:        "submit_access_request",
			description: "Submit a new access request for a resource.",
			params: map[string]contractx.Param{
				"user_email": {Type: contractx.ParamString, Required: true},
				"resource":   {Type: contractx.ParamString, Required: true},
				"action":     {Type: contractx.ParamString, Description: "read, write, or admin", Required: true},
			},
		},
		{
			name:        "approve_request",
			description: "Approve or reject a pending access request.",
			params: map[string]contractx.Param{
				"request_id":     {Type: contractx.ParamString, Required: true},
				"approver_email": {Type: contractx.ParamString, Required: true},
				"approved":       {Type: contractx.ParamBoolean, Required: true},
				"reason":         {Type: contractx.ParamString},
			},
		},
		{
			name:        "get_request_status",
			description: "Look up the status of access requests by id or user.",
			params: map[string]contractx.Param{
				"request_id": {Type: contractx.ParamString},
				"user_email": {Type: contractx.ParamString},
			},
		},
		{
			name:        "notify_approver",
			description: "Notify the approver of a pending request.",
			params: map[string]contractx.Param{
				"request_id":     {Type: contractx.ParamString, Required: true},
				"approver_email": {Type: contractx.ParamString, Required: true},
			},
		},
	},
	NamespaceKnowledge: {
		{
			name:        "search",
			description: "Search HR policies, IT SOPs, and how-to guides; returns evidence snippets.",
			params: map[string]contractx.Param{
				"query": {Type: contractx.ParamString, Description: "Natural language question", Required: true},
			},
		},
	},
}
