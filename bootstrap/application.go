package bootstrap

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/najoast/sngo/config"
	"github.com/najoast/sngo/core"
	"github.com/najoast/sngo/logutil"
	"github.com/najoast/sngo/network"
	"github.com/najoast/sngo/tcp"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Service names registered by NewApplication
const (
	NodeServiceName    = "node"
	MonitorServiceName = "monitor"
)

// Application runs one SNGO node with its TCP transport and, when enabled,
// a metrics HTTP endpoint.
type Application struct {
	cfg       *config.Config
	logger    *zap.Logger
	level     zap.AtomicLevel
	registry  *prometheus.Registry
	lifecycle *LifecycleManager

	node    *nodeService
	monitor *monitorService

	running atomic.Bool
}

// Option configures an Application
type Option func(*Application)

// WithLogger replaces the logger built from the log configuration
func WithLogger(logger *zap.Logger) Option {
	return func(app *Application) {
		app.logger = logger
	}
}

// NewApplication creates an application from a validated configuration.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, level, err := logutil.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		app.logger, app.level = logger, level
	}
	app.logger = app.logger.With(zap.String("app", cfg.App.Name))

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())
	core.InitMetrics(app.registry)
	tcp.InitMetrics(app.registry)

	app.lifecycle = NewLifecycleManager(app.logger)
	if cfg.Actor.ShutdownTimeout > 0 {
		app.lifecycle.SetTimeout(cfg.Actor.ShutdownTimeout)
	}
	app.node = &nodeService{cfg: cfg, logger: app.logger}
	app.monitor = &monitorService{cfg: cfg.Monitor, registry: app.registry, logger: app.logger}
	if err := app.lifecycle.Register(app.node); err != nil {
		return nil, err
	}
	if err := app.lifecycle.Register(app.monitor, NodeServiceName); err != nil {
		return nil, err
	}
	return app, nil
}

// TransportOptions maps the transport configuration to TCP transport options.
func TransportOptions(cfg config.TransportConfig) tcp.Options {
	socket := network.SocketOptions{
		KeepAlive:         cfg.KeepAlive,
		KeepAliveInterval: cfg.KeepAliveInterval,
		NoDelay:           cfg.NoDelay,
	}
	opts := tcp.DefaultOptions()
	opts.Socket = socket
	opts.Listen.Socket = socket
	opts.Listen.StopOnConnectionError = cfg.StopOnConnectionError
	if cfg.AcceptBackoff.Initial > 0 {
		opts.Listen.AcceptBackoffInitial = cfg.AcceptBackoff.Initial
	}
	if cfg.AcceptBackoff.Max > 0 {
		opts.Listen.AcceptBackoffMax = cfg.AcceptBackoff.Max
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.MaxFrameSize > 0 {
		opts.MaxFrameSize = cfg.MaxFrameSize
		opts.Listen.MaxFrameSize = cfg.MaxFrameSize
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
		opts.Listen.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.RouteTimeout > 0 {
		opts.RouteTimeout = cfg.RouteTimeout
	}
	return opts
}

// Start starts the node, its listeners and the metrics endpoint.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrLifecycleState.GenWithStackByArgs("running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		app.running.Store(false)
		return err
	}
	app.logger.Info("sngo node started",
		zap.String("version", app.cfg.App.Version),
		zap.Stringer("environment", app.cfg.App.Environment),
		zap.Stringers("listeners", app.Listeners()))
	return nil
}

// Run starts the application and blocks until ctx is done or the process
// receives SIGINT or SIGTERM, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	app.logger.Info("shutting down", zap.NamedError("reason", context.Cause(sigCtx)))
	return app.Shutdown(context.Background())
}

// Shutdown stops the application within the configured shutdown timeout.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.running.CompareAndSwap(true, false) {
		return nil
	}
	if timeout := app.cfg.Actor.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := app.lifecycle.Stop(ctx)
	_ = app.logger.Sync()
	return err
}

// Watch applies log level changes made to the watched configuration.
func (app *Application) Watch(w *config.Watcher) {
	if app.level == (zap.AtomicLevel{}) {
		app.logger.Debug("logger not built from configuration, ignoring level changes")
		return
	}
	logutil.WatchLevel(w, app.level, app.logger)
}

// Health returns the health of every service.
func (app *Application) Health(ctx context.Context) map[string]HealthStatus {
	return app.lifecycle.Health(ctx)
}

// Node returns the running node, or nil before Start.
func (app *Application) Node() *core.Node {
	app.node.mu.Lock()
	defer app.node.mu.Unlock()
	return app.node.node
}

// Transport returns the running TCP transport, or nil before Start.
func (app *Application) Transport() *tcp.Transport {
	app.node.mu.Lock()
	defer app.node.mu.Unlock()
	return app.node.transport
}

// Listeners returns the bound addresses of the running listeners.
func (app *Application) Listeners() []netip.AddrPort {
	if t := app.Transport(); t != nil {
		return t.Listeners()
	}
	return nil
}

// MetricsAddr returns the bound address of the metrics endpoint, if it runs.
func (app *Application) MetricsAddr() (netip.AddrPort, bool) {
	return app.monitor.addr()
}

// Registry returns the registry holding the node and transport metrics.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// Logger returns the application logger.
func (app *Application) Logger() *zap.Logger {
	return app.logger
}

// nodeService runs the actor node and its TCP transport.
type nodeService struct {
	cfg    *config.Config
	logger *zap.Logger

	mu        sync.Mutex
	node      *core.Node
	transport *tcp.Transport
}

func (s *nodeService) Name() string {
	return NodeServiceName
}

func (s *nodeService) Start(ctx context.Context) error {
	node := core.NewNode(
		core.WithLogger(s.logger),
		core.WithMailboxCapacity(s.cfg.Actor.MailboxSize),
	)
	transport, err := tcp.NewTransport(node, TransportOptions(s.cfg.Transport))
	if err != nil {
		_ = node.Shutdown(ctx)
		return err
	}
	for _, addr := range s.cfg.Transport.Listen {
		if _, err := transport.Listen(addr); err != nil {
			_ = node.Shutdown(ctx)
			return err
		}
	}

	s.mu.Lock()
	s.node, s.transport = node, transport
	s.mu.Unlock()
	return nil
}

func (s *nodeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	node := s.node
	s.node, s.transport = nil, nil
	s.mu.Unlock()
	if node == nil {
		return nil
	}
	return node.Shutdown(ctx)
}

func (s *nodeService) Health(context.Context) (HealthStatus, error) {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return HealthStatus{State: HealthStopped, Message: "node not running"}, nil
	}
	listeners := transport.Listeners()
	status := HealthStatus{
		State: HealthHealthy,
		Data: map[string]interface{}{
			"listeners": len(listeners),
			"pairs":     len(transport.Pairs()),
		},
	}
	if len(listeners) < len(s.cfg.Transport.Listen) {
		status.State = HealthUnhealthy
		status.Message = "listener stopped"
	}
	return status, nil
}

// monitorService serves the metrics registry over HTTP.
type monitorService struct {
	cfg      config.MonitorConfig
	registry *prometheus.Registry
	logger   *zap.Logger

	mu     sync.Mutex
	server *http.Server
	bound  netip.AddrPort
	done   chan struct{}
}

func (s *monitorService) Name() string {
	return MonitorServiceName
}

func (s *monitorService) Start(context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return errors.Annotatef(err, "listen for metrics on %s", s.cfg.Address)
	}
	bound, err := network.AddrPortOf(ln.Addr())
	if err != nil {
		_ = ln.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})

	s.mu.Lock()
	s.server, s.bound, s.done = server, bound, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	s.logger.Info("metrics endpoint listening",
		zap.Stringer("addr", bound), zap.String("path", s.cfg.MetricsPath))
	return nil
}

func (s *monitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, done := s.server, s.done
	s.server, s.bound = nil, netip.AddrPort{}
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	<-done
	return errors.Trace(err)
}

func (s *monitorService) Health(context.Context) (HealthStatus, error) {
	if !s.cfg.Enabled {
		return HealthStatus{State: HealthUnknown, Message: "monitor disabled"}, nil
	}
	if _, ok := s.addr(); !ok {
		return HealthStatus{State: HealthStopped}, nil
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func (s *monitorService) addr() (netip.AddrPort, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound, s.server != nil
}
