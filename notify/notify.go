// Package notify provides the NotificationService implementation over the
// portal API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/gateway"
)

// REST paths of the notification endpoints.
const (
	PathList        = "/users/notifications/"
	PathMarkAllRead = PathList + "mark_all_read/"
	PathUnreadCount = PathList + "unread_count/"
)

// Service implements portal.NotificationService.
type Service struct {
	api portal.API
}

// compile-time check
var _ portal.NotificationService = (*Service)(nil)

// New creates a notification service issuing calls through api.
func New(api portal.API) *Service {
	return &Service{api: api}
}

// List returns the current user's notifications, newest first as sent by
// the backend.
func (s *Service) List(ctx context.Context) ([]portal.Notification, error) {
	var raw json.RawMessage
	if err := s.api.Do(ctx, http.MethodGet, PathList, nil, &raw); err != nil {
		return nil, fmt.Errorf("portal/notify: list: %w", err)
	}
	items, err := gateway.DecodeList[portal.Notification](raw)
	if err != nil {
		return nil, fmt.Errorf("portal/notify: list: %w", err)
	}
	return items, nil
}

// MarkRead acknowledges one notification.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("portal/notify: id cannot be empty")
	}
	if err := s.api.Do(ctx, http.MethodPost, PathList+url.PathEscape(id)+"/mark_read/", nil, nil); err != nil {
		return fmt.Errorf("portal/notify: mark %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead acknowledges every notification.
func (s *Service) MarkAllRead(ctx context.Context) error {
	if err := s.api.Do(ctx, http.MethodPost, PathMarkAllRead, nil, nil); err != nil {
		return fmt.Errorf("portal/notify: mark all read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread notifications. The backend
// answers with either {"unread_count": n} or {"count": n}.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount *int `json:"unread_count"`
		Count       *int `json:"count"`
	}
	if err := s.api.Do(ctx, http.MethodGet, PathUnreadCount, nil, &out); err != nil {
		return 0, fmt.Errorf("portal/notify: unread count: %w", err)
	}
	switch {
	case out.UnreadCount != nil:
		return *out.UnreadCount, nil
	case out.Count != nil:
		return *out.Count, nil
	}
	return 0, fmt.Errorf("portal/notify: unread count: missing count in response")
}
