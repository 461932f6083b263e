// Command spacerelay starts the space relay server.
//
// It supports two modes:
//  1. "server" (default) – runs the TCP relay plus the HTTP server exposing the admin REST API,
//     the WebSocket relay endpoint, Prometheus metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server against a running relay, or starts one in-process
//     if none is reachable
//
// Flags control listen addresses, the space catalog directory, logging, limits,
// version output, and optional ngrok tunneling for easy external access during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wricardo/spacerelay/internal/app"
	"github.com/wricardo/spacerelay/relay/handler"
	"github.com/wricardo/spacerelay/transport/tcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Space Relay"
)

// dotenvErr holds the result of loading .env. It is declared before the flags
// so their environment defaults see the file's values.
var dotenvErr = godotenv.Load()

// Configuration flags control how the server starts and which services are enabled.
// Defaults honour the matching environment variables.
var (
	tcpAddr          = flag.String("tcp-addr", envOr("RELAY_TCP_ADDR", "127.0.0.1:4000"), "TCP relay listen address")
	httpAddr         = flag.String("http-addr", envOr("RELAY_HTTP_ADDR", "localhost:8080"), "HTTP admin/WebSocket listen address")
	configDir        = flag.String("config-dir", envOr("CONFIG_DIR", "spaces"), "Directory containing space definitions (empty for none)")
	appEnv           = flag.String("env", envOr("APP_ENV", "dev"), "Environment; \"prod\" switches to JSON logs")
	debug            = flag.Bool("debug", false, "Enable debug logging")
	version          = flag.Bool("version", false, "Show version information")
	handshakeTimeout = flag.Duration("handshake-timeout", envDuration("RELAY_HANDSHAKE_TIMEOUT", handler.DefaultHandshakeTimeout), "Time allowed for a client to send its handshake (0 disables)")
	maxMessageSize   = flag.Int("max-message-size", envInt("RELAY_MAX_MESSAGE_SIZE", tcp.DefaultMaxMessageSize), "Largest accepted client message in bytes")
	corsAllow        = flag.String("cors-allow", os.Getenv("CORS_ALLOW"), "Comma-separated origins allowed to call the HTTP API (\"*\" for any)")
	ngrokEnabled     = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth        = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain      = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

// parseOrigins splits a comma-separated origin list, dropping blanks.
func parseOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server           Run the TCP relay and the HTTP admin/WebSocket server (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server for operating the relay\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                              # TCP relay on 127.0.0.1:4000, HTTP on localhost:8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -tcp-addr :4000 -env prod    # Listen on all interfaces with JSON logs\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp                    # Run MCP stdio server\n", os.Args[0])
	}
}

// main parses flags, wires the relay, and starts the selected mode.
func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	args := flag.Args()
	mode := "server"
	if len(args) > 0 {
		mode = args[0]
	}

	// stdout belongs to the MCP protocol in stdio mode.
	logOut := os.Stdout
	if isStdioMode(mode) {
		logOut = os.Stderr
	}
	logger := app.NewLogger(*appEnv, *debug, logOut)

	if dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		logger.Warn("error loading .env file", "err", dotenvErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "app", AppName, "version", Version, "mode", mode)

	configDirSet := os.Getenv("CONFIG_DIR") != ""
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config-dir" {
			configDirSet = true
		}
	})

	cfg := relayConfig{
		TCPAddr:            *tcpAddr,
		HTTPAddr:           *httpAddr,
		ConfigDir:          *configDir,
		ConfigDirDefaulted: !configDirSet,
		HandshakeTimeout:   *handshakeTimeout,
		MaxMessageSize:     *maxMessageSize,
		Origins:            parseOrigins(*corsAllow),
	}

	var err error
	switch {
	case isStdioMode(mode):
		err = runStdioMCP(ctx, cfg, logger)
	case mode == "server":
		err = runServer(ctx, cfg, logger)
	default:
		flag.Usage()
		err = fmt.Errorf("unknown mode: %s", mode)
	}

	if err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func isStdioMode(mode string) bool {
	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		return true
	}
	return false
}
