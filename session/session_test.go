package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/credential"
	"github.com/academia-portal/portal-go/session"
	"github.com/academia-portal/portal-go/user"
)

// stubAPI scripts the login and current-user endpoints.
type stubAPI struct {
	mu     sync.Mutex
	calls  []string
	login  func(username, password string) (portal.Credentials, error)
	me     func(ctx context.Context) (*portal.RawProfile, error)
	public atomic.Int32
}

func (s *stubAPI) record(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method+" "+path)
}

func (s *stubAPI) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubAPI) Do(ctx context.Context, method, path string, body, out any) error {
	s.record(method, path)
	switch path {
	case user.PathCurrent:
		p, err := s.me(ctx)
		if err != nil {
			return err
		}
		*out.(*portal.RawProfile) = *p
		return nil
	case session.PathChangePassword:
		return nil
	}
	return &portal.APIError{StatusCode: 404, Err: portal.ErrNotFound}
}

func (s *stubAPI) DoPublic(ctx context.Context, method, path string, body, out any) error {
	s.record(method, path)
	s.public.Add(1)
	switch path {
	case session.PathLogin:
		b := body.(map[string]string)
		creds, err := s.login(b["username"], b["password"])
		if err != nil {
			return err
		}
		*out.(*portal.Credentials) = creds
		return nil
	case session.PathRegisterStudent:
		return nil
	}
	return &portal.APIError{StatusCode: 404, Err: portal.ErrNotFound}
}

var (
	studentProfile = &portal.RawProfile{ID: "1", Username: "jdoe", FirstName: "Jane", LastName: "Doe", IsStudent: true}
	goodPair       = portal.Credentials{AccessToken: "a1", RefreshToken: "r1"}
)

func newStub() *stubAPI {
	return &stubAPI{
		login: func(u, p string) (portal.Credentials, error) {
			if u == "jdoe" && p == "pw" {
				return goodPair, nil
			}
			return portal.Credentials{}, &portal.AuthError{Op: "login", Err: portal.ErrInvalidCredentials}
		},
		me: func(context.Context) (*portal.RawProfile, error) { return studentProfile, nil },
	}
}

func TestBootstrapWithoutCredentials(t *testing.T) {
	api := newStub()
	m := session.New(api, credential.NewMemory())

	if m.State().Status != portal.StatusIdle {
		t.Fatalf("initial status = %v, want idle", m.State().Status)
	}

	state, err := m.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	if state.Status != portal.StatusReady || state.User != nil {
		t.Errorf("state = %+v, want Ready(nil)", state)
	}
	if api.callCount() != 0 {
		t.Errorf("calls = %d, want no network without credentials", api.callCount())
	}
}

func TestBootstrapRestoresSession(t *testing.T) {
	api := newStub()
	store := credential.NewMemory()
	store.Save(context.Background(), goodPair)
	m := session.New(api, store)

	var seen []portal.SessionStatus
	unsubscribe := m.Subscribe(func(s portal.SessionState) { seen = append(seen, s.Status) })
	defer unsubscribe()

	state, err := m.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	if state.User == nil || state.User.Role != portal.RoleStudent || state.User.DisplayName != "Jane Doe" {
		t.Fatalf("state.User = %+v", state.User)
	}
	if len(seen) != 2 || seen[0] != portal.StatusLoading || seen[1] != portal.StatusReady {
		t.Errorf("transitions = %v, want [loading ready]", seen)
	}

	// Runs once.
	if _, err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap() error: %v", err)
	}
	if api.callCount() != 1 {
		t.Errorf("calls = %d, want 1", api.callCount())
	}
}

func TestBootstrapFailureClearsCredentials(t *testing.T) {
	api := newStub()
	api.me = func(context.Context) (*portal.RawProfile, error) {
		return nil, &portal.AuthError{Op: "refresh", Err: portal.ErrSessionInvalidated}
	}
	store := credential.NewMemory()
	store.Save(context.Background(), goodPair)
	m := session.New(api, store)

	state, err := m.Bootstrap(context.Background())
	if !errors.Is(err, portal.ErrSessionInvalidated) {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if state.Status != portal.StatusReady || state.User != nil {
		t.Errorf("state = %+v, want Ready(nil)", state)
	}
	if store.Load(context.Background()) != nil {
		t.Error("credentials must be cleared")
	}
}

func TestBootstrapCancelledIsDiscarded(t *testing.T) {
	api := newStub()
	ctx, cancel := context.WithCancel(context.Background())
	api.me = func(context.Context) (*portal.RawProfile, error) {
		cancel()
		return studentProfile, nil
	}
	store := credential.NewMemory()
	store.Save(context.Background(), goodPair)
	m := session.New(api, store)

	if _, err := m.Bootstrap(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Bootstrap() error = %v, want context.Canceled", err)
	}
	if m.State().User != nil || m.State().Status != portal.StatusIdle {
		t.Errorf("state = %+v, want untouched idle", m.State())
	}

	api.me = func(context.Context) (*portal.RawProfile, error) { return studentProfile, nil }
	state, err := m.Bootstrap(context.Background())
	if err != nil || state.User == nil {
		t.Fatalf("retry Bootstrap() = %+v, %v", state, err)
	}
}

func TestLoginSuccess(t *testing.T) {
	api := newStub()
	store := credential.NewMemory()
	m := session.New(api, store)

	profile, err := m.Login(context.Background(), "jdoe", "pw")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if profile.Role != portal.RoleStudent {
		t.Errorf("Role = %q", profile.Role)
	}
	if creds := store.Load(context.Background()); creds == nil || *creds != goodPair {
		t.Errorf("stored credentials = %v", creds)
	}
	state := m.State()
	if state.Status != portal.StatusReady || state.User.ID != "1" || state.Generation != 1 {
		t.Errorf("state = %+v", state)
	}
}

func TestLoginInvalidCredentialsLeavesStateUnchanged(t *testing.T) {
	api := newStub()
	store := credential.NewMemory()
	m := session.New(api, store)
	_, _ = m.Bootstrap(context.Background())
	before := m.State()

	_, err := m.Login(context.Background(), "jdoe", "wrong")
	if !errors.Is(err, portal.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	var authErr *portal.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("expected *portal.AuthError, got %T", err)
	}
	if m.State() != before {
		t.Errorf("state changed: %+v -> %+v", before, m.State())
	}
	if store.Load(context.Background()) != nil {
		t.Error("no credentials should be stored")
	}
}

func TestLoginRequiresFields(t *testing.T) {
	api := newStub()
	m := session.New(api, credential.NewMemory())

	_, err := m.Login(context.Background(), " ", "")
	var ve *portal.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("Login() error = %v, want ValidationError on both fields", err)
	}
	if api.callCount() != 0 {
		t.Error("validation must happen before the network")
	}
}

func TestLoginProfileFailureRollsBack(t *testing.T) {
	api := newStub()
	api.me = func(context.Context) (*portal.RawProfile, error) {
		return nil, &portal.NetworkError{Op: "GET /users/me/", Err: errors.New("connection reset")}
	}
	store := credential.NewMemory()
	m := session.New(api, store)

	_, err := m.Login(context.Background(), "jdoe", "pw")
	var ne *portal.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Login() error = %v, want NetworkError", err)
	}
	if store.Load(context.Background()) != nil {
		t.Error("stored pair must be rolled back")
	}
	if m.State().User != nil {
		t.Error("user must not be set")
	}
}

func TestFailedSecondLoginKeepsCurrentSession(t *testing.T) {
	api := newStub()
	store := credential.NewMemory()
	m := session.New(api, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, "jdoe", "pw"); err != nil {
		t.Fatal(err)
	}

	api.login = func(string, string) (portal.Credentials, error) {
		return portal.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil
	}
	api.me = func(context.Context) (*portal.RawProfile, error) {
		return nil, &portal.NetworkError{Op: "GET /users/me/", Err: errors.New("connection reset")}
	}
	if _, err := m.Login(ctx, "other", "pw2"); err == nil {
		t.Fatal("expected second login to fail")
	}

	if u := m.State().User; u == nil || u.ID != "1" {
		t.Fatalf("current user = %+v, want the first user", u)
	}
	got := store.Load(ctx)
	if got == nil || *got != goodPair {
		t.Errorf("stored pair = %v, want the first user's pair restored", got)
	}
}

func TestLogoutDuringLoginDiscardsResult(t *testing.T) {
	api := newStub()
	entered := make(chan struct{})
	release := make(chan struct{})
	api.me = func(context.Context) (*portal.RawProfile, error) {
		close(entered)
		<-release
		return studentProfile, nil
	}
	store := credential.NewMemory()
	m := session.New(api, store)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "jdoe", "pw")
		errc <- err
	}()

	<-entered
	m.Logout(context.Background())
	close(release)

	if err := <-errc; !errors.Is(err, portal.ErrSuperseded) {
		t.Fatalf("Login() error = %v, want ErrSuperseded", err)
	}
	if m.State().User != nil {
		t.Error("stale login must not set the user")
	}
	if store.Load(context.Background()) != nil {
		t.Error("stale login must not leave credentials behind")
	}
}

func TestConcurrentLoginsSerialize(t *testing.T) {
	api := newStub()
	var inFlight, maxInFlight atomic.Int32
	api.me = func(context.Context) (*portal.RawProfile, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return studentProfile, nil
	}
	m := session.New(api, credential.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Login(context.Background(), "jdoe", "pw"); err != nil {
				t.Errorf("Login() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent operations = %d, want 1", maxInFlight.Load())
	}
}

func TestLogoutAndInvalidate(t *testing.T) {
	api := newStub()
	store := credential.NewMemory()
	m := session.New(api, store)
	if _, err := m.Login(context.Background(), "jdoe", "pw"); err != nil {
		t.Fatal(err)
	}
	calls := api.callCount()

	m.Logout(context.Background())
	state := m.State()
	if state.User != nil || state.Status != portal.StatusReady || state.Generation != 2 {
		t.Errorf("after logout state = %+v", state)
	}
	if store.Load(context.Background()) != nil {
		t.Error("logout must clear credentials")
	}
	if api.callCount() != calls {
		t.Error("logout must not call the network")
	}

	if _, err := m.Login(context.Background(), "jdoe", "pw"); err != nil {
		t.Fatal(err)
	}
	m.Invalidate(context.Background())
	if state := m.State(); state.User != nil || state.Generation != 4 {
		t.Errorf("after invalidate state = %+v", state)
	}
}

func TestReload(t *testing.T) {
	api := newStub()
	m := session.New(api, credential.NewMemory())

	if _, err := m.Reload(context.Background()); !errors.Is(err, portal.ErrNoCredentials) {
		t.Fatalf("Reload() signed out error = %v", err)
	}

	if _, err := m.Login(context.Background(), "jdoe", "pw"); err != nil {
		t.Fatal(err)
	}
	api.me = func(context.Context) (*portal.RawProfile, error) {
		p := *studentProfile
		p.FirstName = "Janet"
		return &p, nil
	}
	profile, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if profile.DisplayName != "Janet Doe" || m.State().User.DisplayName != "Janet Doe" {
		t.Errorf("profile = %+v", profile)
	}
}

func TestRegisterValidatesBeforeNetwork(t *testing.T) {
	api := newStub()
	m := session.New(api, credential.NewMemory())

	reg := session.StudentRegistration{
		FirstName: "Ann", LastName: "Lee", Matricule: "M-1", Email: "ann@example.com",
		Password: "secret1", PasswordConfirm: "secret2",
	}
	err := m.Register(context.Background(), reg)
	var ve *portal.ValidationError
	if !errors.As(err, &ve) || ve.Fields["password_confirm"] == nil {
		t.Fatalf("Register() error = %v, want password_confirm ValidationError", err)
	}
	if api.callCount() != 0 {
		t.Error("mismatch must be caught before the network")
	}

	reg.PasswordConfirm = reg.Password
	if err := m.Register(context.Background(), reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if m.State().User != nil {
		t.Error("registration must not sign the user in")
	}
}

func TestChangePassword(t *testing.T) {
	api := newStub()
	m := session.New(api, credential.NewMemory())
	change := session.PasswordChange{OldPassword: "pw", NewPassword: "n1", Confirm: "n1"}

	if err := m.ChangePassword(context.Background(), change); !errors.Is(err, portal.ErrNoCredentials) {
		t.Fatalf("ChangePassword() signed out error = %v", err)
	}
	if _, err := m.Login(context.Background(), "jdoe", "pw"); err != nil {
		t.Fatal(err)
	}

	bad := change
	bad.Confirm = "n2"
	var ve *portal.ValidationError
	if err := m.ChangePassword(context.Background(), bad); !errors.As(err, &ve) {
		t.Fatalf("ChangePassword() mismatch error = %v", err)
	}
	if err := m.ChangePassword(context.Background(), change); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	m := session.New(newStub(), credential.NewMemory())
	var n atomic.Int32
	unsubscribe := m.Subscribe(func(portal.SessionState) { n.Add(1) })

	m.Logout(context.Background())
	unsubscribe()
	m.Logout(context.Background())

	if n.Load() != 1 {
		t.Errorf("notifications = %d, want 1", n.Load())
	}
}
