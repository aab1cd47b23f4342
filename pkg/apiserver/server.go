package apiserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/myeasypage/easypage/pkg/auth"
	"github.com/myeasypage/easypage/pkg/backend"
	"github.com/myeasypage/easypage/pkg/content"
	"github.com/myeasypage/easypage/pkg/edge"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/payments"
	"github.com/myeasypage/easypage/pkg/preview"
	"github.com/myeasypage/easypage/pkg/ratelimit"
	"github.com/myeasypage/easypage/pkg/resolver"
	"github.com/myeasypage/easypage/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Services are the collaborators the HTTP surface is built on. Limiter,
// Payments, Preview and Hub are optional.
type Services struct {
	Backend  backend.Backend
	Content  *content.Store
	Resolver *resolver.Resolver
	Sessions *auth.Sessions
	Limiter  *ratelimit.Limiter
	Payments *payments.Service
	Preview  *preview.Bus
	Hub      *preview.Hub
	Edge     edge.Config
	Registry *prometheus.Registry
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []*net.IPNet
}

type apiServer struct {
	ctx  context.Context
	log  *logrus.Entry
	port int

	backend  backend.Backend
	content  *content.Store
	resolver *resolver.Resolver
	sessions *auth.Sessions
	limiter  *ratelimit.Limiter
	payments *payments.Service
	preview  *preview.Bus
	hub      *preview.Hub
	edge     edge.Config
	registry *prometheus.Registry
	metrics  *metrics
	proxies  []*net.IPNet

	heartbeat time.Duration
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, port int, s Services) *apiServer {
	registry := s.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &apiServer{
		ctx:       ctx,
		log:       log,
		port:      port,
		backend:   s.Backend,
		content:   s.Content,
		resolver:  s.Resolver,
		sessions:  s.Sessions,
		limiter:   s.Limiter,
		payments:  s.Payments,
		preview:   s.Preview,
		hub:       s.Hub,
		edge:      s.Edge,
		registry:  registry,
		metrics:   newMetrics(registry),
		proxies:   s.TrustedProxies,
		heartbeat: 25 * time.Second,
	}
}

// Handler builds the full request pipeline: trusted proxy headers, CORS, then
// host classification and rewriting, then the router.
func (a *apiServer) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(a.log, a.metrics))

	// When functioning properly, these routes will return the version of tha app that is running
	router.Path("/").HandlerFunc(a.root)
	router.Path("/healthz").HandlerFunc(a.root)
	router.Path("/metrics").Handler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	api := router.PathPrefix("/api").Subrouter()
	api.Use(a.globalRateLimitMiddleware)

	api.Path("/auth/signup").Methods("POST").HandlerFunc(a.signup)
	api.Path("/auth/login").Methods("POST").HandlerFunc(a.login)
	api.Path("/auth/logout").Methods("POST").HandlerFunc(a.logout)
	api.Path("/auth/send-otp").Methods("POST").HandlerFunc(a.sendOTP)
	api.Path("/auth/verify-otp").Methods("POST").HandlerFunc(a.verifyOTP)
	api.Path("/auth/reset-password").Methods("POST").HandlerFunc(a.resetPassword)
	api.Path("/check-subdomain").Methods("GET").HandlerFunc(a.checkSubdomain)

	api.Path("/pages/{username}").Methods("GET").HandlerFunc(a.page)
	api.Path("/pages/{username}/posts").Methods("GET").HandlerFunc(a.publicPosts)
	api.Path("/pages/{username}/posts/{slug}").Methods("GET").HandlerFunc(a.publicPost)
	api.Path("/pages/{username}/contact").Methods("POST").HandlerFunc(a.contact)

	api.Path("/payments/webhook").Methods("POST").HandlerFunc(a.paymentWebhook)

	// All routes using this authed subrouter will require a session
	authed := api.NewRoute().Subrouter()
	authed.Use(sessionMiddleware(a.sessions))

	authed.Path("/auth/me").Methods("GET").HandlerFunc(a.me)
	authed.Path("/payments/create-order").Methods("POST").HandlerFunc(a.createOrder)
	authed.Path("/payments/verify").Methods("POST").HandlerFunc(a.verifyPayment)

	authed.Path("/admin/profile-design/draft").Methods("GET").HandlerFunc(a.getDraft)
	authed.Path("/admin/profile-design/draft").Methods("POST").HandlerFunc(a.saveDraft)
	authed.Path("/admin/profile-design/publish").Methods("POST").HandlerFunc(a.publish)

	authed.Path("/admin/posts").Methods("GET").HandlerFunc(a.listPosts)
	authed.Path("/admin/posts").Methods("POST").HandlerFunc(a.createPost)
	authed.Path("/admin/posts/{id:[0-9]+}").Methods("PUT").HandlerFunc(a.updatePost)
	authed.Path("/admin/posts/{id:[0-9]+}").Methods("DELETE").HandlerFunc(a.deletePost)

	authed.Path("/admin/domain").Methods("POST").HandlerFunc(a.claimDomain)
	authed.Path("/admin/domain/verify").Methods("POST").HandlerFunc(a.verifyDomain)
	authed.Path("/admin/uploads").Methods("POST").HandlerFunc(a.presignUpload)

	authed.Path("/admin/preview").Methods("POST").HandlerFunc(a.pushPreview)
	authed.Path("/admin/preview/ping").Methods("POST").HandlerFunc(a.pingPreview)
	authed.Path("/admin/preview/stream").Methods("GET").HandlerFunc(a.previewStream)

	super := authed.PathPrefix("/superadmin").Subrouter()
	super.Use(requireRole(model.RoleSuperAdmin))
	super.Path("/owners").Methods("GET").HandlerFunc(a.listOwners)

	// Tenant sites, reached through the edge rewrite.
	router.Path(edge.CustomPrefix + "/{domain}").Methods("GET").HandlerFunc(a.page)
	router.Path(edge.CustomPrefix + "/{domain}/posts").Methods("GET").HandlerFunc(a.publicPosts)
	router.Path(edge.CustomPrefix + "/{domain}/posts/{slug}").Methods("GET").HandlerFunc(a.publicPost)
	router.Path("/{site}").Methods("GET").HandlerFunc(a.page)
	router.Path("/{site}/pages/{username}").Methods("GET").HandlerFunc(a.page)
	router.Path("/{site}/posts").Methods("GET").HandlerFunc(a.publicPosts)
	router.Path("/{site}/posts/{slug}").Methods("GET").HandlerFunc(a.publicPost)

	// Note: this allows not found urls to be logged via the middleware
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(a.notFound).GetHandler()

	cors := ghandlers.CORS(
		ghandlers.AllowedOriginValidator(a.allowedOrigin),
		ghandlers.AllowCredentials(),
		ghandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "If-None-Match"}),
		ghandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		ghandlers.ExposedHeaders([]string{"ETag", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}),
	)
	return trustedProxyMiddleware(a.proxies)(cors(a.edge.Middleware(router)))
}

// allowedOrigin accepts the platform's own hosts and local development.
func (a *apiServer) allowedOrigin(origin string) bool {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = model.HostWithoutPort(host)
	base := a.edge.BaseDomain
	if base != "" && (host == base || strings.HasSuffix(host, "."+base)) {
		return true
	}
	return a.edge.DevMarker != "" && strings.Contains(host, a.edge.DevMarker)
}

func (a *apiServer) Start() error {
	logrus.Infof("Version: %s", version.Get())

	// Below this point is where the server is started and graceful shutdown occurs.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return a.ctx
		},
	}

	go func() {
		a.log.WithField("port", a.port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatalf("listen: %s\n", err)
		}
	}()

	go a.backend.StartPurgerDaemon(a.ctx.Done())

	<-a.ctx.Done()

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}
	if a.content != nil {
		a.content.Wait()
	}

	return nil
}
