package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/guard"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/middleware/ginmw"
	"github.com/academia-portal/portal-go/remote"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local web host with role-gated views",
		Long: "Serves the portal views for the session held in the credential store. " +
			"Use --store=redis to share the session with other CLI invocations.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)
			events := audit.New(256, audit.WithSlogHandler(app.logger))
			defer events.Close()

			client, err := connect(cmd.Context(), app, connectOptions{metrics: m, audit: events})
			if err != nil {
				return writeErr(cmd, err)
			}
			defer client.Close()

			host := newWebHost(client, reg, m, app.logger)
			return listen(cmd.Context(), addr, host, app.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", app.Config.ServeAddr, "Listen address (PORTAL_SERVE_ADDR)")
	return cmd
}

// listen serves h on addr until ctx is cancelled or SIGINT/SIGTERM arrives.
func listen(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

// webHost serves the role-gated views over the client's single session.
type webHost struct {
	client *remote.Client
	logger *slog.Logger
}

func newWebHost(client *remote.Client, reg *prometheus.Registry, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &webHost{client: client, logger: logger}
	gate := ginmw.New(client.Manager(), ginmw.WithMetrics(m), ginmw.WithLogger(logger))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	views := r.Group("/", gate.Routes())
	views.GET("/", h.profile)
	views.POST("/login", h.login)
	views.POST("/logout", h.logout)
	views.GET("/profile", h.profile)
	views.GET("/profile/notifications", h.notifications)

	views.GET("/student/dashboard", h.dashboard)
	views.GET("/student/claims", reviewList(h, client.GradeClaims(), true))
	views.POST("/student/claims", reviewCreate(h, client.GradeClaims(), bindClaim))
	views.GET("/student/requests", reviewList(h, client.Requests(), true))
	views.POST("/student/requests", reviewCreate(h, client.Requests(), bindRequest))

	views.GET("/teacher/dashboard", h.dashboard)
	views.GET("/teacher/claims", reviewList(h, client.GradeClaims(), true))
	views.POST("/teacher/claims", reviewCreate(h, client.GradeClaims(), bindClaim))
	views.GET("/teacher/permissions", reviewList(h, client.Permissions(), true))
	views.POST("/teacher/permissions", reviewCreate(h, client.Permissions(), bindPermission))

	views.GET("/admin/dashboard", h.dashboard)
	views.GET("/admin/claims", reviewList(h, client.GradeClaims(), false))
	views.POST("/admin/claims/:id/decide", reviewDecide(h, client.GradeClaims()))
	views.GET("/admin/requests", reviewList(h, client.Requests(), false))
	views.POST("/admin/requests/:id/decide", reviewDecide(h, client.Requests()))
	views.GET("/admin/permissions", reviewList(h, client.Permissions(), false))
	views.POST("/admin/permissions/:id/decide", reviewDecide(h, client.Permissions()))

	return r
}

func (h *webHost) login(c *gin.Context) {
	var body struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.client.Session().Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "redirect": guard.HomePath(user.Role)})
}

func (h *webHost) logout(c *gin.Context) {
	h.client.Session().Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"redirect": guard.LoginPath})
}

func (h *webHost) profile(c *gin.Context) {
	state, _ := ginmw.GetState(c)
	c.JSON(http.StatusOK, gin.H{"user": state.User, "request_id": ginmw.GetRequestID(c)})
}

func (h *webHost) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	unread, err := h.client.Notifications().UnreadCount(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": ginmw.GetRole(c), "unread_notifications": unread})
}

func (h *webHost) notifications(c *gin.Context) {
	ns, err := h.client.Notifications().List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": ns})
}

func reviewList[S any](h *webHost, reviews portal.Reviews[S], mine bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := portal.ActorFromContext(c.Request.Context())
		filter := portal.Filter{Status: portal.Status(c.Query("status"))}
		if mine {
			filter.RequesterID = actor.ID
		}
		items, err := reviews.List(c.Request.Context(), actor, filter)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": items})
	}
}

type createForm struct {
	Grade       string `json:"grade"`
	RequestType string `json:"request_type"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func bindClaim(f createForm) (portal.GradeClaim, string) {
	return portal.GradeClaim{GradeID: f.Grade}, f.Reason
}

func bindRequest(f createForm) (portal.AdminRequest, string) {
	return portal.AdminRequest{RequestType: f.RequestType}, f.Description
}

func bindPermission(f createForm) (portal.Permission, string) {
	return portal.Permission{StartDate: f.StartDate, EndDate: f.EndDate}, f.Reason
}

func reviewCreate[S any](h *webHost, reviews portal.Reviews[S], bind func(createForm) (S, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form createForm
		if err := c.ShouldBindJSON(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor, _ := portal.ActorFromContext(c.Request.Context())
		subject, reason := bind(form)
		item, err := reviews.Create(c.Request.Context(), actor, subject, reason)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func reviewDecide[S any](h *webHost, reviews portal.Reviews[S]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Outcome  portal.Status `json:"outcome"`
			Response string        `json:"response"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor, _ := portal.ActorFromContext(c.Request.Context())
		item, err := reviews.Decide(c.Request.Context(), actor, c.Param("id"), body.Outcome, body.Response)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// fail maps a client error to an HTTP status.
func (h *webHost) fail(c *gin.Context, err error) {
	var (
		authErr  *portal.AuthError
		denied   *portal.AuthorizationError
		invalid  *portal.ValidationError
		conflict *portal.WorkflowStateError
		netErr   *portal.NetworkError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message, "fields": invalid.Fields})
		return
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &denied):
		status = http.StatusForbidden
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.Is(err, portal.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &netErr):
		status = http.StatusBadGateway
	default:
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
