// ABOUTME: Entry point for the glasshouse session server
// ABOUTME: Mediates between an agent runtime and passively connected viewers

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/auth"
	"github.com/glasshouse-dev/glasshouse/internal/broadcast"
	"github.com/glasshouse-dev/glasshouse/internal/config"
	"github.com/glasshouse-dev/glasshouse/internal/coordinator"
	"github.com/glasshouse-dev/glasshouse/internal/gateway"
	"github.com/glasshouse-dev/glasshouse/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _                 _
   __ _| | __ _ ___ ___  | |__   ___  _   _ ___  ___
  / _' | |/ _' / __/ __| | '_ \ / _ \| | | / __|/ _ \
 | (_| | | (_| \__ \__ \ | | | | (_) | |_| \__ \  __/
  \__, |_|\__,_|___/___/ |_| |_|\___/ \__,_|___/\___|
  |___/
`

// getConfigPath returns the path to the glasshouse config file.
// Priority: GLASSHOUSE_CONFIG env var > XDG_CONFIG_HOME/glasshouse/config.yaml
// > ~/.config/glasshouse/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GLASSHOUSE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "glasshouse", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: glasshouse <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the session server")
		fmt.Println("  token --sub SUBJECT  Mint a viewer API token")
		fmt.Println("  version              Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s\n", cfg.Agent.Command)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting glasshouse",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	factory := agent.NewCLIFactory(cfg.Agent.Command, cfg.Agent.Args, cfg.Agent.WorkingDir, logger)
	broadcaster := broadcast.New(logger)
	coord := coordinator.New(st, factory, broadcaster, logger)

	gw, err := gateway.New(cfg, coord, broadcaster, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runToken mints a viewer JWT using the configured secret.
func runToken(args []string) error {
	subject := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--sub" && i+1 < len(args) {
			subject = args[i+1]
			i++
		}
	}
	if subject == "" {
		return fmt.Errorf("usage: glasshouse token --sub SUBJECT")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(subject, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
