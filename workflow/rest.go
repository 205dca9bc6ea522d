package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/gateway"
)

// Ref is a reference to another record. The backend sends either the bare
// id or a nested object carrying one.
type Ref struct {
	ID portal.ID
}

// UnmarshalJSON accepts `7`, `"7"` and `{"id": 7, ...}`.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID portal.ID `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		r.ID = obj.ID
		return nil
	}
	return r.ID.UnmarshalJSON(data)
}

// MarshalJSON writes the bare id.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r.ID))
}

// IsZero lets omitempty-style checks skip empty references.
func (r *Ref) IsZero() bool { return r == nil || r.ID == "" }

// WireItem is the JSON shape shared by the claim, request and permission
// endpoints. Each kind fills a subset of the fields.
type WireItem struct {
	ID            portal.ID     `json:"id,omitempty"`
	Status        portal.Status `json:"status,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Description   string        `json:"description,omitempty"`
	Grade         *Ref          `json:"grade,omitempty"`
	RequestType   string        `json:"request_type,omitempty"`
	StartDate     string        `json:"start_date,omitempty"`
	EndDate       string        `json:"end_date,omitempty"`
	Requester     *Ref          `json:"requester,omitempty"`
	Student       *Ref          `json:"student,omitempty"`
	User          *Ref          `json:"user,omitempty"`
	Teacher       *Ref          `json:"teacher,omitempty"`
	AdminResponse string        `json:"admin_response,omitempty"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
	RespondedBy   *Ref          `json:"responded_by,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
}

// Owner returns the first requester reference present.
func (w *WireItem) Owner() string {
	for _, r := range []*Ref{w.Requester, w.Student, w.User, w.Teacher} {
		if !r.IsZero() {
			return r.ID.String()
		}
	}
	return ""
}

// Endpoints maps one item kind onto the REST API.
type Endpoints[S any] struct {
	Kind       portal.Kind
	Collection string
	// Mine lists the caller's own items. Optional.
	Mine string
	// Pending lists items awaiting a decision. Optional.
	Pending string

	// Encode builds the create payload.
	Encode func(subject S, reason string) WireItem
	// Decode extracts the subject and reason from a payload.
	Decode func(w WireItem) (S, string)
	// Decision returns the path and body that record d.
	Decision func(id string, d Decision) (path string, body any)
}

// Wire renders item in its wire form.
func (e Endpoints[S]) Wire(item *portal.Item[S]) WireItem {
	w := e.Encode(item.Subject, item.Reason)
	w.ID = portal.ID(item.ID)
	w.Status = item.Status
	w.Requester = &Ref{ID: portal.ID(item.RequesterID)}
	w.AdminResponse = item.AdminResponse
	w.RespondedAt = item.DecidedAt
	if item.DecidedBy != "" {
		w.RespondedBy = &Ref{ID: portal.ID(item.DecidedBy)}
	}
	if !item.CreatedAt.IsZero() {
		at := item.CreatedAt
		w.CreatedAt = &at
	}
	return w
}

// Item converts a wire payload into an item.
func (e Endpoints[S]) Item(w WireItem) *portal.Item[S] {
	subject, reason := e.Decode(w)
	item := &portal.Item[S]{
		ID:            w.ID.String(),
		Kind:          e.Kind,
		Subject:       subject,
		RequesterID:   w.Owner(),
		Reason:        reason,
		Status:        w.Status,
		AdminResponse: w.AdminResponse,
		DecidedAt:     w.RespondedAt,
	}
	if item.Status == "" {
		item.Status = portal.StatusPending
	}
	if !w.RespondedBy.IsZero() {
		item.DecidedBy = w.RespondedBy.ID.String()
	}
	if w.CreatedAt != nil {
		item.CreatedAt = *w.CreatedAt
	}
	return item
}

func (e Endpoints[S]) itemPath(id string) string {
	return e.Collection + id + "/"
}

// GradeClaimEndpoints serves grade claims under /grades/claims/.
func GradeClaimEndpoints() Endpoints[portal.GradeClaim] {
	return Endpoints[portal.GradeClaim]{
		Kind:       portal.KindGradeClaim,
		Collection: "/grades/claims/",
		Encode: func(s portal.GradeClaim, reason string) WireItem {
			return WireItem{Grade: &Ref{ID: portal.ID(s.GradeID)}, Reason: reason}
		},
		Decode: func(w WireItem) (portal.GradeClaim, string) {
			var c portal.GradeClaim
			if !w.Grade.IsZero() {
				c.GradeID = w.Grade.ID.String()
			}
			return c, w.Reason
		},
		Decision: respond("/grades/claims/"),
	}
}

// RequestEndpoints serves administrative requests under /request/requests/.
func RequestEndpoints() Endpoints[portal.AdminRequest] {
	const base = "/request/requests/"
	return Endpoints[portal.AdminRequest]{
		Kind:       portal.KindRequest,
		Collection: base,
		Mine:       base + "my_requests/",
		Pending:    base + "pending/",
		Encode: func(s portal.AdminRequest, reason string) WireItem {
			return WireItem{RequestType: s.RequestType, Description: reason}
		},
		Decode: func(w WireItem) (portal.AdminRequest, string) {
			return portal.AdminRequest{RequestType: w.RequestType}, w.Description
		},
		Decision: func(id string, d Decision) (string, any) {
			verb := "reject"
			if d.Outcome == portal.StatusApproved {
				verb = "approve"
			}
			return base + id + "/" + verb + "/", map[string]string{"admin_response": d.Response}
		},
	}
}

// PermissionEndpoints serves teacher permissions under /teachers/permissions/.
func PermissionEndpoints() Endpoints[portal.Permission] {
	return Endpoints[portal.Permission]{
		Kind:       portal.KindPermission,
		Collection: "/teachers/permissions/",
		Encode: func(s portal.Permission, reason string) WireItem {
			return WireItem{StartDate: s.StartDate, EndDate: s.EndDate, Reason: reason}
		},
		Decode: func(w WireItem) (portal.Permission, string) {
			return portal.Permission{StartDate: w.StartDate, EndDate: w.EndDate}, w.Reason
		},
		Decision: respond("/teachers/permissions/"),
	}
}

// DecisionBody is the payload of the generic respond endpoint.
type DecisionBody struct {
	Status   portal.Status `json:"status"`
	Response string        `json:"response"`
}

func respond(base string) func(string, Decision) (string, any) {
	return func(id string, d Decision) (string, any) {
		return base + id + "/respond/", DecisionBody{Status: d.Outcome, Response: d.Response}
	}
}

// REST is a Store backed by the remote API. The backend is authoritative for
// IDs, timestamps and the pending check.
type REST[S any] struct {
	api portal.API
	ep  Endpoints[S]
}

// compile-time checks
var (
	_ Store[portal.GradeClaim] = (*REST[portal.GradeClaim])(nil)
	_ Store[portal.GradeClaim] = (*Memory[portal.GradeClaim])(nil)
)

// NewREST creates a remote store for one item kind.
func NewREST[S any](api portal.API, ep Endpoints[S]) *REST[S] {
	return &REST[S]{api: api, ep: ep}
}

// Insert implements Store.
func (r *REST[S]) Insert(ctx context.Context, item portal.Item[S]) (*portal.Item[S], error) {
	var out WireItem
	if err := r.api.Do(ctx, http.MethodPost, r.ep.Collection, r.ep.Encode(item.Subject, item.Reason), &out); err != nil {
		return nil, err
	}
	created := r.ep.Item(out)
	if created.RequesterID == "" {
		created.RequesterID = item.RequesterID
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = item.CreatedAt
	}
	return created, nil
}

// Get implements Store.
func (r *REST[S]) Get(ctx context.Context, id string) (*portal.Item[S], error) {
	var out WireItem
	if err := r.api.Do(ctx, http.MethodGet, r.ep.itemPath(id), nil, &out); err != nil {
		return nil, err
	}
	return r.ep.Item(out), nil
}

// List implements Store. The narrowest endpoint available for filter is
// used and the filter is applied again to what comes back. A requester
// filter means the backend already scoped the list to that owner, so items
// without an owner ref are attributed to it.
func (r *REST[S]) List(ctx context.Context, filter portal.Filter) ([]*portal.Item[S], error) {
	path := r.ep.Collection
	switch {
	case filter.RequesterID != "" && r.ep.Mine != "":
		path = r.ep.Mine
	case filter.Status == portal.StatusPending && r.ep.Pending != "":
		path = r.ep.Pending
	}

	var raw json.RawMessage
	if err := r.api.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	wires, err := gateway.DecodeList[WireItem](raw)
	if err != nil {
		return nil, fmt.Errorf("portal/workflow: decode %s list: %w", r.ep.Kind, err)
	}

	items := make([]*portal.Item[S], 0, len(wires))
	for _, w := range wires {
		item := r.ep.Item(w)
		if item.RequesterID == "" {
			item.RequesterID = filter.RequesterID
		}
		if filter.Match(item.Status, item.RequesterID) {
			items = append(items, item)
		}
	}
	return items, nil
}

// Resolve implements Store. A conflict from the backend arrives as
// *portal.WorkflowStateError through the gateway's error mapping.
func (r *REST[S]) Resolve(ctx context.Context, id string, d Decision) (*portal.Item[S], error) {
	path, body := r.ep.Decision(id, d)
	var raw json.RawMessage
	if err := r.api.Do(ctx, http.MethodPost, path, body, &raw); err != nil {
		return nil, err
	}

	var out WireItem
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("portal/workflow: decode %s decision: %w", r.ep.Kind, err)
		}
	}
	// Some endpoints answer with a bare acknowledgement.
	if out.Status == "" || strings.TrimSpace(out.ID.String()) == "" {
		return r.Get(ctx, id)
	}
	return r.ep.Item(out), nil
}
