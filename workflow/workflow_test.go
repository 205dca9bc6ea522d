package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/workflow"
)

var (
	alice = portal.Actor{ID: "s1", Role: portal.RoleStudent}
	bob   = portal.Actor{ID: "s2", Role: portal.RoleStudent}
	tina  = portal.Actor{ID: "t1", Role: portal.RoleTeacher}
	root  = portal.Actor{ID: "a1", Role: portal.RoleAdmin}
)

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) handle(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
}

func newClaims(opts ...workflow.Option) *workflow.Engine[portal.GradeClaim] {
	opts = append([]workflow.Option{workflow.WithClock(fixedClock)}, opts...)
	return workflow.New(workflow.GradeClaimPolicy, workflow.NewMemory[portal.GradeClaim](), opts...)
}

func TestCreateAndDecide(t *testing.T) {
	ctx := context.Background()
	claims := newClaims()

	item, err := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-42"}, "  exam 2 was misgraded ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.ID == "" || item.Status != portal.StatusPending || item.RequesterID != "s1" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.Reason != "exam 2 was misgraded" {
		t.Errorf("Reason = %q, want trimmed", item.Reason)
	}
	if !item.CreatedAt.Equal(fixedClock()) {
		t.Errorf("CreatedAt = %v", item.CreatedAt)
	}

	decided, err := claims.Decide(ctx, root, item.ID, portal.StatusApproved, "regraded to 15")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != portal.StatusApproved || decided.AdminResponse != "regraded to 15" || decided.DecidedBy != "a1" {
		t.Errorf("unexpected decision %+v", decided)
	}
	if decided.DecidedAt == nil || !decided.DecidedAt.Equal(fixedClock()) {
		t.Errorf("DecidedAt = %v", decided.DecidedAt)
	}
}

func TestDecideOnlyOnce(t *testing.T) {
	ctx := context.Background()
	claims := newClaims()
	item, _ := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "typo")
	if _, err := claims.Decide(ctx, root, item.ID, portal.StatusRejected, "grade stands"); err != nil {
		t.Fatalf("first Decide: %v", err)
	}

	_, err := claims.Decide(ctx, root, item.ID, portal.StatusApproved, "changed my mind")
	var stateErr *portal.WorkflowStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("second Decide error = %v, want WorkflowStateError", err)
	}
	if stateErr.Status != portal.StatusRejected {
		t.Errorf("reported status = %q", stateErr.Status)
	}

	got, err := claims.Get(ctx, root, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != portal.StatusRejected || got.AdminResponse != "grade stands" {
		t.Errorf("item changed after refused decision: %+v", got)
	}
}

func TestConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	claims := newClaims()
	item, _ := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "typo")

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := portal.StatusApproved
			if i%2 == 0 {
				outcome = portal.StatusRejected
			}
			_, err := claims.Decide(ctx, root, item.ID, outcome, "ok")
			var stateErr *portal.WorkflowStateError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &stateErr):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 15 {
		t.Errorf("wins = %d, conflicts = %d", wins.Load(), conflicts.Load())
	}
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	log := audit.New(10, audit.WithHandler(rec.handle))
	claims := newClaims(workflow.WithAudit(log))
	item, _ := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "typo")

	var authErr *portal.AuthorizationError
	if _, err := claims.Create(ctx, root, portal.GradeClaim{GradeID: "g-1"}, "typo"); !errors.As(err, &authErr) {
		t.Errorf("admin Create error = %v, want AuthorizationError", err)
	}
	if _, err := claims.Decide(ctx, alice, item.ID, portal.StatusApproved, "self-approved"); !errors.As(err, &authErr) {
		t.Errorf("student Decide error = %v, want AuthorizationError", err)
	}
	if _, err := claims.List(ctx, portal.Actor{}, portal.Filter{}); !errors.As(err, &authErr) {
		t.Errorf("anonymous List error = %v, want AuthorizationError", err)
	}
	log.Close()

	var denied int
	for _, e := range rec.snapshot() {
		if e.Result == audit.ResultDenied {
			denied++
		}
	}
	if denied != 2 {
		t.Errorf("denied events = %d, want 2", denied)
	}

	got, _ := claims.Get(ctx, root, item.ID)
	if got.Status != portal.StatusPending {
		t.Errorf("status = %q after refused decision", got.Status)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	claims := newClaims()
	item, _ := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "typo")

	tests := []struct {
		name  string
		call  func() error
		field string
	}{
		{"blank reason", func() error {
			_, err := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "   ")
			return err
		}, "reason"},
		{"missing grade", func() error {
			_, err := claims.Create(ctx, alice, portal.GradeClaim{}, "typo")
			return err
		}, "grade"},
		{"blank response", func() error {
			_, err := claims.Decide(ctx, root, item.ID, portal.StatusApproved, " ")
			return err
		}, "response"},
		{"pending is not an outcome", func() error {
			_, err := claims.Decide(ctx, root, item.ID, portal.StatusPending, "ok")
			return err
		}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vErr *portal.ValidationError
			if err := tt.call(); !errors.As(err, &vErr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if _, ok := vErr.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", vErr.Fields, tt.field)
			}
		})
	}
}

func TestPermissionDates(t *testing.T) {
	ctx := context.Background()
	perms := workflow.New(workflow.PermissionPolicy, workflow.NewMemory[portal.Permission]())

	_, err := perms.Create(ctx, tina, portal.Permission{StartDate: "2025-05-10", EndDate: "2025-05-02"}, "conference")
	var vErr *portal.ValidationError
	if !errors.As(err, &vErr) || len(vErr.Fields["end_date"]) == 0 {
		t.Fatalf("error = %v, want end_date validation error", err)
	}
	if _, err := perms.Create(ctx, tina, portal.Permission{StartDate: "2025-05-02", EndDate: "2025-05-02"}, "conference"); err != nil {
		t.Errorf("single-day permission: %v", err)
	}
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	requests := workflow.New(workflow.RequestPolicy, workflow.NewMemory[portal.AdminRequest]())

	mine, _ := requests.Create(ctx, alice, portal.AdminRequest{RequestType: "transcript"}, "scholarship file")
	theirs, _ := requests.Create(ctx, bob, portal.AdminRequest{RequestType: "certificate"}, "visa")
	if _, err := requests.Create(ctx, tina, portal.AdminRequest{RequestType: "room"}, "lab access"); err != nil {
		t.Fatalf("teacher Create: %v", err)
	}
	if _, err := requests.Decide(ctx, root, theirs.ID, portal.StatusApproved, "ready at desk"); err != nil {
		t.Fatal(err)
	}

	items, err := requests.List(ctx, alice, portal.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != mine.ID {
		t.Errorf("student sees %d items, want only their own", len(items))
	}

	// A student cannot widen the filter to someone else.
	items, _ = requests.List(ctx, alice, portal.Filter{RequesterID: "s2"})
	if len(items) != 1 || items[0].RequesterID != "s1" {
		t.Errorf("filter override leaked %+v", items)
	}

	if _, err := requests.Get(ctx, alice, theirs.ID); !errors.Is(err, portal.ErrNotFound) {
		t.Errorf("Get other's item error = %v, want ErrNotFound", err)
	}

	all, _ := requests.List(ctx, root, portal.Filter{})
	pending, _ := requests.List(ctx, root, portal.Filter{Status: portal.StatusPending})
	if len(all) != 3 || len(pending) != 2 {
		t.Errorf("admin sees all=%d pending=%d, want 3 and 2", len(all), len(pending))
	}
	if all[0].ID != mine.ID {
		t.Errorf("items not in creation order")
	}
}

func TestMemoryCopies(t *testing.T) {
	ctx := context.Background()
	store := workflow.NewMemory[portal.GradeClaim]()
	item, _ := store.Insert(ctx, portal.Item[portal.GradeClaim]{Status: portal.StatusPending, Reason: "x"})

	item.Status = portal.StatusApproved
	got, _ := store.Get(ctx, item.ID)
	if got.Status != portal.StatusPending {
		t.Error("store shares memory with callers")
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, portal.ErrNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d", store.Len())
	}
}

func TestMetricsAndContextAudit(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recorder{}
	log := audit.New(10, audit.WithHandler(rec.handle))
	ctx := audit.WithRequestID(audit.WithContext(context.Background(), log), "req-9")

	claims := newClaims(workflow.WithMetrics(metrics.New(reg)))
	item, _ := claims.Create(ctx, alice, portal.GradeClaim{GradeID: "g-1"}, "typo")
	if _, err := claims.Decide(ctx, root, item.ID, portal.StatusRejected, "no"); err != nil {
		t.Fatal(err)
	}
	log.Close()

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	last := events[1]
	if last.Action != audit.ActionDecide || last.Result != "rejected" || last.RequestID != "req-9" || last.Details != "no" {
		t.Errorf("decide event = %+v", last)
	}

	n, err := testutil.GatherAndCount(reg, "portal_workflow_operations_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("workflow series = %d, want 2", n)
	}
}
