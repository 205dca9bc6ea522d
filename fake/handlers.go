package fake

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/notify"
	"github.com/academia-portal/portal-go/session"
	"github.com/academia-portal/portal-go/user"
	"github.com/academia-portal/portal-go/workflow"
)

func (a *API) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Post(session.PathLogin, a.handleLogin)
	r.Post(portal.DefaultRefreshPath, a.handleRefresh)
	r.Post(session.PathRegisterStudent, a.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.Get(user.PathCurrent, a.handleMe)
		r.Put(session.PathChangePassword, a.handleChangePassword)
		r.Get(user.PathList, a.handleListUsers)
		r.Get("/users/{userID}/", a.handleGetUser)

		r.Get(notify.PathList, a.handleNotifications)
		r.Get(notify.PathUnreadCount, a.handleUnreadCount)
		r.Post(notify.PathMarkAllRead, a.handleMarkAllRead)
		r.Post(notify.PathList+"{id}/mark_read/", a.handleMarkRead)

		mount(r, a, a.claims, workflow.GradeClaimEndpoints())
		mount(r, a, a.requests, workflow.RequestEndpoints())
		mount(r, a, a.permissions, workflow.PermissionEndpoints())
	})
	return r
}

// --- auth ---

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	a.loginCalls.Add(1)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := required(map[string]string{"username": req.Username, "password": req.Password}); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	a.mu.RLock()
	acc, ok := a.accounts[req.Username]
	valid := ok && acc.password == req.Password
	a.mu.RUnlock()
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "No active account found with the given credentials",
		})
		return
	}

	creds, err := a.issue(acc.profile.ID.String())
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)

	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}

	creds, err := a.rotate(req.Refresh)
	if errors.Is(err, errTokenInvalid) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// --- users ---

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Matricule string `json:"matricule"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := required(map[string]string{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"matricule":  req.Matricule,
		"email":      req.Email,
		"password":   req.Password,
	})
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.accounts[req.Matricule]; taken {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"matricule": {"A user with this matricule already exists."}})
		return
	}
	acc := a.addAccount(portal.RawProfile{
		Username:  req.Matricule,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Matricule: req.Matricule,
		Role:      string(portal.RoleStudent),
		IsStudent: true,
	}, req.Password)
	writeJSON(w, http.StatusCreated, acc.profile)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.snapshot(current(r)))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var change session.PasswordChange
	if !decodeJSON(w, r, &change) {
		return
	}
	if err := change.Validate(); err != nil {
		a.writeError(w, err)
		return
	}

	acc := current(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc.password != change.OldPassword {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"old_password": {"Wrong password."}})
		return
	}
	acc.password = change.NewPassword
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password updated."})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if actor(a.snapshot(current(r))).Role != portal.RoleAdmin {
		a.writeError(w, &portal.AuthorizationError{Action: "list users"})
		return
	}
	page, size := intQuery(r, "page", 1), intQuery(r, "page_size", 50)

	a.mu.RLock()
	all := make([]portal.RawProfile, 0, len(a.byID))
	for _, acc := range a.accounts {
		all = append(all, acc.profile)
	}
	a.mu.RUnlock()
	slices.SortFunc(all, func(x, y portal.RawProfile) int { return strings.Compare(x.Username, y.Username) })

	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(all), "results": all[start:end]})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	me := actor(a.snapshot(current(r)))
	id := chi.URLParam(r, "userID")
	if me.Role != portal.RoleAdmin && me.ID != id {
		a.writeError(w, &portal.AuthorizationError{Action: "view user"})
		return
	}
	a.mu.RLock()
	acc, ok := a.byID[id]
	a.mu.RUnlock()
	if !ok {
		a.writeError(w, portal.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.snapshot(acc))
}

// --- notifications ---

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := current(r).profile.ID.String()
	a.mu.RLock()
	out := make([]portal.Notification, 0, len(a.notifications[userID]))
	for _, n := range a.notifications[userID] {
		out = append(out, *n)
	}
	a.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := current(r).profile.ID.String()
	a.mu.RLock()
	unread := 0
	for _, n := range a.notifications[userID] {
		if !n.Read {
			unread++
		}
	}
	a.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": unread})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := current(r).profile.ID.String()
	id := chi.URLParam(r, "id")
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.notifications[userID] {
		if n.ID.String() == id {
			n.Read = true
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	a.writeError(w, portal.ErrNotFound)
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := current(r).profile.ID.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.notifications[userID] {
		n.Read = true
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- workflows ---

type reviews[S any] struct {
	api    *API
	engine *workflow.Engine[S]
	ep     workflow.Endpoints[S]
}

func mount[S any](r chi.Router, a *API, engine *workflow.Engine[S], ep workflow.Endpoints[S]) {
	h := &reviews[S]{api: a, engine: engine, ep: ep}
	r.Get(ep.Collection, h.list)
	r.Post(ep.Collection, h.create)
	if ep.Mine != "" {
		r.Get(ep.Mine, h.mine)
	}
	if ep.Pending != "" {
		r.Get(ep.Pending, h.pending)
	}
	r.Get(ep.Collection+"{id}/", h.get)
	r.Post(ep.Collection+"{id}/respond/", h.respond)
	r.Post(ep.Collection+"{id}/approve/", h.verdict(portal.StatusApproved))
	r.Post(ep.Collection+"{id}/reject/", h.verdict(portal.StatusRejected))
}

func (h *reviews[S]) actor(r *http.Request) portal.Actor {
	return actor(h.api.snapshot(current(r)))
}

// list answers with a paginated envelope.
func (h *reviews[S]) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.List(r.Context(), h.actor(r), portal.Filter{
		Status:      portal.Status(r.URL.Query().Get("status")),
		RequesterID: r.URL.Query().Get("requester"),
	})
	if err != nil {
		h.api.writeError(w, err)
		return
	}
	wire := h.wire(items)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(wire), "results": wire})
}

// mine and pending answer with bare arrays.
func (h *reviews[S]) mine(w http.ResponseWriter, r *http.Request) {
	me := h.actor(r)
	h.bare(w, r, me, portal.Filter{RequesterID: me.ID})
}

func (h *reviews[S]) pending(w http.ResponseWriter, r *http.Request) {
	h.bare(w, r, h.actor(r), portal.Filter{Status: portal.StatusPending})
}

func (h *reviews[S]) bare(w http.ResponseWriter, r *http.Request, me portal.Actor, f portal.Filter) {
	items, err := h.engine.List(r.Context(), me, f)
	if err != nil {
		h.api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.wire(items))
}

func (h *reviews[S]) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.Get(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ep.Wire(item))
}

func (h *reviews[S]) create(w http.ResponseWriter, r *http.Request) {
	var in workflow.WireItem
	if !decodeJSON(w, r, &in) {
		return
	}
	subject, reason := h.ep.Decode(in)
	item, err := h.engine.Create(r.Context(), h.actor(r), subject, reason)
	if err != nil {
		h.api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.ep.Wire(item))
}

func (h *reviews[S]) respond(w http.ResponseWriter, r *http.Request) {
	var in workflow.DecisionBody
	if !decodeJSON(w, r, &in) {
		return
	}
	h.decide(w, r, in.Status, in.Response)
}

func (h *reviews[S]) verdict(outcome portal.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			AdminResponse string `json:"admin_response"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		h.decide(w, r, outcome, in.AdminResponse)
	}
}

func (h *reviews[S]) decide(w http.ResponseWriter, r *http.Request, outcome portal.Status, response string) {
	item, err := h.engine.Decide(r.Context(), h.actor(r), chi.URLParam(r, "id"), outcome, response)
	if err != nil {
		h.api.writeError(w, err)
		return
	}
	label := strings.ReplaceAll(string(h.ep.Kind), "_", " ")
	h.api.notify(item.RequesterID, fmt.Sprintf("Your %s was %s", label, item.Status), item.AdminResponse)
	writeJSON(w, http.StatusOK, h.ep.Wire(item))
}

func (h *reviews[S]) wire(items []*portal.Item[S]) []workflow.WireItem {
	out := make([]workflow.WireItem, 0, len(items))
	for _, item := range items {
		out = append(out, h.ep.Wire(item))
	}
	return out
}

// --- helpers ---

// writeError renders portal errors the way the REST API does.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var (
		invalid *portal.ValidationError
		denied  *portal.AuthorizationError
		state   *portal.WorkflowStateError
	)
	switch {
	case errors.As(err, &invalid):
		body := make(map[string]any, len(invalid.Fields)+1)
		for field, msgs := range invalid.Fields {
			body[field] = msgs
		}
		if len(body) == 0 {
			body["non_field_errors"] = []string{invalid.Message}
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
	case errors.As(err, &state):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": fmt.Sprintf("This item has already been %s.", state.Status)})
	case errors.Is(err, portal.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	default:
		a.serverError(w, err)
	}
}

func (a *API) serverError(w http.ResponseWriter, err error) {
	a.logger.Error("fake api request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "A server error occurred."})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error - " + err.Error()})
		return false
	}
	return true
}

func required(values map[string]string) map[string][]string {
	fields := map[string][]string{}
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			fields[name] = []string{"This field is required."}
		}
	}
	return fields
}

func intQuery(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
