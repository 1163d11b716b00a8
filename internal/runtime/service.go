package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/pktflow/internal/runtime/config"
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metricspkg "github.com/drblury/pktflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/pktflow/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// metricsRegisterer receives the packet counters when metrics are enabled.
var metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

const (
	httpShutdownTimeout = 5 * time.Second
	routerCloseTimeout  = 10 * time.Second
)

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier
	// Recorder receives packet-path events. When nil and metrics are enabled
	// a Prometheus recorder is registered; otherwise events are discarded.
	Recorder metricspkg.Recorder
}

// Service wires a Watermill router, publisher, subscriber, and middleware
// chain around packet handlers and boundary adapters.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportpkg.Capabilities
	recorder     metricspkg.Recorder

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
}

// NewService constructs a Service and panics when the configuration,
// transport or middleware chain cannot be set up. Use TryNewService to get
// the error instead.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Start.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	withDefaults := conf.WithDefaults()
	conf = &withDefaults
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating packet service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		capabilities:    transportpkg.GetCapabilities(conf.PubSubSystem),
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
	}

	recorder, err := newRecorder(conf, deps.Recorder)
	if err != nil {
		return nil, err
	}
	s.recorder = recorder

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	s.registerStatsAPI()
	return s, nil
}

func newRecorder(conf *configpkg.Config, rec metricspkg.Recorder) (metricspkg.Recorder, error) {
	if rec != nil {
		return rec, nil
	}
	if !conf.MetricsEnabled {
		return metricspkg.Nop(), nil
	}
	prom := metricspkg.NewPrometheus(metricsRegisterer)
	if err := prom.Register(); err != nil {
		return nil, fmt.Errorf("register packet metrics: %w", err)
	}
	return prom, nil
}

// Recorder returns the packet-path recorder shared by the Service adapters.
func (s *Service) Recorder() metricspkg.Recorder {
	return metricspkg.OrNop(s.recorder)
}

// Capabilities returns what the configured transport supports.
func (s *Service) Capabilities() transportpkg.Capabilities {
	return s.capabilities
}

// Running is closed once the router has started every handler.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Start runs the HTTP endpoints and the router until ctx is cancelled.
// Cancelling ctx closes the router, so Start returns even when no handler
// was registered.
func (s *Service) Start(ctx context.Context) error {
	stop := s.startHTTPServers(ctx)
	defer stop()

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.router.Close(); err != nil {
				s.Logger.Error("Router close failed", err, nil)
			}
		case <-runDone:
		}
	}()
	return routerRun(s.router, ctx)
}

// Close shuts the router down. It is safe to call after Start returns.
func (s *Service) Close() error {
	if s.router == nil {
		return nil
	}
	return s.router.Close()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
// Servers start with Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context) func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}
}
