// ABOUTME: Gateway orchestrator that coordinates gRPC and HTTP servers
// ABOUTME: Owns the store, the conversation service, the outbox dispatcher and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/support-desk/internal/auth"
	"github.com/2389/support-desk/internal/config"
	"github.com/2389/support-desk/internal/conversation"
	"github.com/2389/support-desk/internal/notify"
	"github.com/2389/support-desk/internal/store"
)

// natsDialTimeout bounds connecting to the broker during New.
const natsDialTimeout = 10 * time.Second

// Gateway orchestrates the support-desk server components.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	chat        *conversation.Service
	tokens      *auth.JWTVerifier
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	broadcaster *notify.Broadcaster
	dispatcher  *notify.Dispatcher
	natsSink    *notify.NATSSink // nil unless notify.sink is nats
	logger      *slog.Logger

	// set by Run; Shutdown stops the dispatcher before closing the store
	stopDispatcher context.CancelFunc
	dispatcherDone chan struct{}
}

// initStore opens the configured database.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	s, err := store.Open(store.Options{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initSink builds the external event sink named by notify.sink.
func initSink(cfg *config.Config, logger *slog.Logger) (notify.Sink, *notify.NATSSink, error) {
	switch cfg.Notify.Sink {
	case config.SinkNATS:
		ctx, cancel := context.WithTimeout(context.Background(), natsDialTimeout)
		defer cancel()
		ns, err := notify.DialNATS(ctx, notify.NATSOptions{
			URL:           cfg.Notify.NATS.URL,
			Stream:        cfg.Notify.NATS.Stream,
			SubjectPrefix: cfg.Notify.NATS.SubjectPrefix,
			MaxAge:        cfg.Notify.NATS.MaxAge,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return ns, ns, nil
	case config.SinkNone:
		return notify.NopSink{}, nil, nil
	default:
		return notify.NewLogSink(logger), nil, nil
	}
}

// createGRPCServer creates a gRPC server with keepalive settings and JWT auth interceptors.
func createGRPCServer(principals auth.PrincipalStore, tokens auth.TokenVerifier, logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(principals, tokens, logger)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(principals, tokens, logger)),
	)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	external, natsSink, err := initSink(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating event sink: %w", err)
	}

	broadcaster := notify.NewBroadcaster(logger)
	dispatcher := notify.NewDispatcher(s, notify.MultiSink{external, broadcaster}, notify.DispatcherOptions{
		PollInterval: cfg.Notify.PollInterval,
		BatchSize:    cfg.Notify.BatchSize,
		MaxAttempts:  cfg.Notify.MaxAttempts,
		Logger:       logger,
	})

	chat := conversation.New(s, conversation.Options{
		Logger:          logger,
		Notifier:        dispatcher,
		MaxBodyLength:   cfg.Chat.MaxBodyLength,
		DefaultPageSize: cfg.Chat.DefaultPageSize,
		MaxPageSize:     cfg.Chat.MaxPageSize,
		DefaultSubject:  cfg.Chat.DefaultSubject,
		ConflictRetries: cfg.Chat.ConflictRetries,
	})

	gw := &Gateway{
		config:      cfg,
		store:       s,
		chat:        chat,
		tokens:      tokens,
		grpcServer:  createGRPCServer(s, tokens, logger),
		health:      health.NewServer(),
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		natsSink:    natsSink,
		logger:      logger.With("component", "gateway"),
	}

	RegisterChatServiceServer(gw.grpcServer, &chatServer{chat: chat, logger: logger.With("component", "grpc")})
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus(ChatServiceName, healthpb.HealthCheckResponse_SERVING)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.registerHTTPAPIRoutes(mux, auth.HTTPAuthMiddleware(s, tokens, logger), auth.RequireElevatedHTTP())

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// SSE streams never go idle; closing the broadcaster ends them.
	gw.httpServer.RegisterOnShutdown(broadcaster.Close)

	gw.logger.Info("gateway initialized",
		"database", cfg.Database.Path,
		"driver", cfg.Database.Driver,
		"sink", cfg.Notify.Sink,
	)
	return gw, nil
}

// setupTCPListeners creates TCP listeners for gRPC and HTTP. grpcLn is nil
// when server.grpc_addr is empty.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	} else {
		g.logger.Info("gRPC server disabled")
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startDispatcher runs the outbox dispatcher until Shutdown.
func (g *Gateway) startDispatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	g.stopDispatcher = cancel
	g.dispatcherDone = make(chan struct{})
	go func() {
		defer close(g.dispatcherDone)
		_ = g.dispatcher.Run(ctx)
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and the dispatcher and blocks until ctx is
// canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupTCPListeners()
	if err != nil {
		return err
	}

	g.startDispatcher()
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// stopDispatching stops the background dispatcher and makes one last
// delivery pass so events committed before shutdown are not left waiting
// for the next start.
func (g *Gateway) stopDispatching(ctx context.Context) error {
	if g.stopDispatcher != nil {
		g.stopDispatcher()
		select {
		case <-g.dispatcherDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.stopDispatcher = nil
	}
	n, err := g.dispatcher.Drain(ctx)
	if n > 0 {
		g.logger.Info("delivered pending events on shutdown", "count", n)
	}
	return err
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "dispatcher", g.stopDispatching(ctx))
	if g.natsSink != nil {
		errs = appendCloseError(errs, "nats close", g.natsSink.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
