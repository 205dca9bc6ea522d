package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/gateway"
)

// REST paths of the user directory.
const (
	PathCurrent = "/users/me/"
	PathList    = "/users/list/"
	pathUser    = "/users/"
)

// REST is a Backend over the portal API.
type REST struct {
	api portal.API
}

var _ Backend = (*REST)(nil)

// NewREST creates a REST backend issuing calls through api.
func NewREST(api portal.API) *REST {
	return &REST{api: api}
}

// GetCurrent fetches the authenticated user's raw profile.
func (r *REST) GetCurrent(ctx context.Context) (*portal.RawProfile, error) {
	var p portal.RawProfile
	if err := r.api.Do(ctx, http.MethodGet, PathCurrent, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get fetches one user.
func (r *REST) Get(ctx context.Context, userID string) (*portal.RawProfile, error) {
	var p portal.RawProfile
	if err := r.api.Do(ctx, http.MethodGet, pathUser+url.PathEscape(userID)+"/", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List fetches a page of users. Both bare arrays and paginated envelopes
// ({"results": [...]}) are accepted.
func (r *REST) List(ctx context.Context, opts portal.ListOptions) ([]*portal.RawProfile, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	path := PathList
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var raw json.RawMessage
	if err := r.api.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return gateway.DecodeList[*portal.RawProfile](raw)
}
