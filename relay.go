package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/spacerelay/api"
	"github.com/wricardo/spacerelay/relay/config"
	"github.com/wricardo/spacerelay/relay/handler"
	"github.com/wricardo/spacerelay/relay/metrics"
	"github.com/wricardo/spacerelay/relay/router"
	"github.com/wricardo/spacerelay/relay/service"
	"github.com/wricardo/spacerelay/relay/session"
	"github.com/wricardo/spacerelay/transport/mcp"
	"github.com/wricardo/spacerelay/transport/tcp"
	"github.com/wricardo/spacerelay/transport/websocket"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// relayConfig is the resolved configuration of one relay instance.
type relayConfig struct {
	TCPAddr   string
	HTTPAddr  string
	ConfigDir string
	// ConfigDirDefaulted marks ConfigDir as the built-in default rather than
	// an operator choice; a missing default directory is not an error.
	ConfigDirDefaulted bool
	HandshakeTimeout   time.Duration
	MaxMessageSize     int
	Origins            []string
}

// relay holds the wired components of a running relay.
type relay struct {
	cfg      relayConfig
	log      *slog.Logger
	registry *session.Registry
	catalog  *config.Manager
	metrics  *prometheus.Registry
	handler  *handler.Handler
	service  service.RelayService
}

// newRelay wires the registry, catalog, metrics, router, handler and service.
func newRelay(cfg relayConfig, logger *slog.Logger) (*relay, error) {
	dir := cfg.ConfigDir
	if cfg.ConfigDirDefaulted && dir != "" {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			logger.Warn("space catalog directory not found, using the built-in default space", "dir", dir)
			dir = ""
		}
	}

	catalog, err := config.NewManager(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create space catalog: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	registry := session.NewRegistry()
	rt := router.New(registry, catalog, m, logger.With("component", "router"))
	h := handler.New(registry, rt, logger.With("component", "handler"),
		handler.WithMetrics(m),
		handler.WithHandshakeTimeout(cfg.HandshakeTimeout),
	)

	logger.Info("space catalog loaded", "dir", dir, "spaces", len(catalog.List()))

	return &relay{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		catalog:  catalog,
		metrics:  reg,
		handler:  h,
		service:  service.NewRelayService(registry, catalog, rt),
	}, nil
}

// httpHandler combines the admin API, the WebSocket endpoint, metrics and
// the /mcp endpoint proxying to baseURL.
func (r *relay) httpHandler(baseURL string) http.Handler {
	wsOrigins := r.cfg.Origins
	if len(wsOrigins) == 0 {
		wsOrigins = []string{"*"}
	}
	ws := websocket.NewServer(r.handler, r.log.With("component", "websocket"),
		websocket.WithAllowedOrigins(wsOrigins),
		websocket.WithMaxMessageSize(int64(r.cfg.MaxMessageSize)),
	)

	apiServer := api.NewServer(r.service,
		api.WithWebSocket(ws),
		api.WithMetrics(promhttp.HandlerFor(r.metrics, promhttp.HandlerOpts{})),
		api.WithCORS(r.cfg.Origins),
	)

	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer.Handler())
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer req.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(req.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// serve runs the TCP relay on tcpLn and the HTTP server on httpLn until ctx
// is cancelled or either fails. Live connections on both transports are
// closed before it returns.
func (r *relay) serve(ctx context.Context, tcpLn, httpLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	tcpServer := tcp.NewServer(r.handler, r.log.With("component", "tcp"),
		tcp.WithMaxMessageSize(r.cfg.MaxMessageSize))

	baseURL := "http://" + httpLn.Addr().String()
	mux := r.httpHandler(baseURL)
	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// WebSocket connections inherit this context, so cancelling ctx
		// terminates them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		return tcpServer.Serve(ctx, tcpLn)
	})

	g.Go(func() error {
		r.log.Info("http server listening",
			"addr", httpLn.Addr().String(),
			"api", baseURL+"/api",
			"websocket", "ws://"+httpLn.Addr().String()+"/ws",
			"metrics", baseURL+"/metrics",
			"mcp", baseURL+"/mcp")
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.log.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	if ngrokShouldRun() {
		g.Go(func() error {
			r.serveNgrok(ctx, mux)
			return nil
		})
	}

	return g.Wait()
}

// runServer listens on the configured addresses and serves until ctx is
// cancelled.
func runServer(ctx context.Context, cfg relayConfig, logger *slog.Logger) error {
	r, err := newRelay(cfg, logger)
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	tcpLn, err := lc.Listen(ctx, "tcp", cfg.TCPAddr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", cfg.TCPAddr, err)
	}
	httpLn, err := lc.Listen(ctx, "tcp", cfg.HTTPAddr)
	if err != nil {
		tcpLn.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	return r.serve(ctx, tcpLn, httpLn)
}

// ngrokShouldRun reports whether ngrok is enabled by flag or environment.
func ngrokShouldRun() bool {
	if *ngrokEnabled {
		return true
	}
	v := os.Getenv("NGROK_ENABLED")
	return v == "true" || v == "1"
}

// serveNgrok exposes h through an ngrok tunnel until ctx is cancelled.
// Failures are logged; the relay keeps running without the tunnel.
func (r *relay) serveNgrok(ctx context.Context, h http.Handler) {
	log := r.log.With("component", "ngrok")

	// Support both naming conventions for the token.
	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTH_TOKEN")
	}
	if authToken == "" {
		log.Warn("ngrok enabled but no auth token provided (use -ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return
	}

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Error("failed to start ngrok tunnel", "err", err)
		return
	}

	ngrokURL := tun.URL()
	log.Info("ngrok tunnel established",
		"url", ngrokURL,
		"api", ngrokURL+"/api",
		"websocket", ngrokURL+"/ws")

	srv := &http.Server{
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("ngrok server error", "err", err)
	}
	log.Info("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It uses the relay at cfg.HTTPAddr if
// one answers; otherwise it starts a relay in-process on a loopback HTTP port
// and the configured TCP address, and targets that.
func runStdioMCP(ctx context.Context, cfg relayConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	externalURL := "http://" + cfg.HTTPAddr
	logger.Info("checking for external relay", "url", externalURL)

	baseURL := externalURL
	done := make(chan error, 1)
	if !relayReachable(externalURL) {
		logger.Info("no external relay found, starting one in-process")

		r, err := newRelay(cfg, logger)
		if err != nil {
			return err
		}
		var lc net.ListenConfig
		tcpLn, err := lc.Listen(ctx, "tcp", cfg.TCPAddr)
		if err != nil {
			return fmt.Errorf("listen tcp %s: %w", cfg.TCPAddr, err)
		}
		httpLn, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
		if err != nil {
			tcpLn.Close()
			return fmt.Errorf("listen http: %w", err)
		}
		baseURL = "http://" + httpLn.Addr().String()
		go func() { done <- r.serve(ctx, tcpLn, httpLn) }()
	} else {
		close(done)
	}

	logger.Info("mcp stdio server ready", "api", baseURL)
	err := mcp.NewClient(baseURL).ServeStdio()
	cancel()
	if serveErr := <-done; serveErr != nil {
		logger.Warn("in-process relay stopped with error", "err", serveErr)
	}
	if err != nil {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

// relayReachable reports whether a relay admin API answers at baseURL.
func relayReachable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
