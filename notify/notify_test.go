package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/credential"
	"github.com/academia-portal/portal-go/gateway"
	"github.com/academia-portal/portal-go/notify"
)

type backend struct {
	mu    sync.Mutex
	calls []string
	count string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls = append(b.calls, r.Method+" "+r.URL.Path)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case notify.PathList:
		_, _ = w.Write([]byte(`{"count":2,"results":[
			{"id":1,"title":"Claim decided","message":"approved","is_read":false,"created_at":"2025-03-01T10:00:00Z"},
			{"id":2,"title":"Welcome","message":"hello","is_read":true,"created_at":"2025-02-01T10:00:00Z"}]}`))
	case notify.PathUnreadCount:
		_, _ = w.Write([]byte(b.count))
	case "/users/notifications/1/mark_read/", notify.PathMarkAllRead:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newService(t *testing.T, b *backend) *notify.Service {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	store := credential.NewMemory()
	store.Save(context.Background(), portal.Credentials{AccessToken: "a", RefreshToken: "r"})
	return notify.New(gateway.New(srv.URL, store))
}

func TestList(t *testing.T) {
	svc := newService(t, &backend{})

	items, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].ID != "1" || items[0].Read || !items[1].Read {
		t.Errorf("items = %+v", items)
	}
	if items[0].CreatedAt.Month() != 3 {
		t.Errorf("CreatedAt = %v", items[0].CreatedAt)
	}
}

func TestMarkRead(t *testing.T) {
	b := &backend{}
	svc := newService(t, b)
	ctx := context.Background()

	if err := svc.MarkRead(ctx, "1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := svc.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if err := svc.MarkRead(ctx, ""); err == nil {
		t.Error("expected error for empty id")
	}
	if err := svc.MarkRead(ctx, "99"); !errors.Is(err, portal.ErrNotFound) {
		t.Errorf("MarkRead(99) = %v, want ErrNotFound", err)
	}

	want := []string{
		"POST /users/notifications/1/mark_read/",
		"POST /users/notifications/mark_all_read/",
		"POST /users/notifications/99/mark_read/",
	}
	if len(b.calls) != len(want) {
		t.Fatalf("calls = %v", b.calls)
	}
	for i := range want {
		if b.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, b.calls[i], want[i])
		}
	}
}

func TestUnreadCount(t *testing.T) {
	tests := []struct {
		body    string
		want    int
		wantErr bool
	}{
		{`{"unread_count":3}`, 3, false},
		{`{"count":5}`, 5, false},
		{`{"unread_count":0}`, 0, false},
		{`{}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			svc := newService(t, &backend{count: tt.body})
			got, err := svc.UnreadCount(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UnreadCount = %d, want %d", got, tt.want)
			}
		})
	}
}
