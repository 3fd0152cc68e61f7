// ABOUTME: Entry point for coven-keyring credential server
// ABOUTME: Serves the keyring API and provides operator commands for users and tokens

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-keyring/internal/config"
	"github.com/2389/coven-keyring/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                  _                       _
  ___ _____   _____ _ __        | | _____ _   _ _ __ (_)_ __   __ _
 / __/ _ \ \ / / _ \ '_ \ _____ | |/ / _ \ | | | '__|| | '_ \ / _' |
| (_| (_) \ V /  __/ | | |_____||   <  __/ |_| | |   | | | | | (_| |
 \___\___/ \_/ \___|_| |_|      |_|\_\___|\__, |_|   |_|_| |_|\__, |
                                          |___/               |___/
`

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-keyring <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                   Start the keyring server")
	fmt.Println("  init [--path FILE] [--force]            Write a config file with fresh secrets")
	fmt.Println("  adduser --name NAME --email EMAIL       Create a user (password read from terminal)")
	fmt.Println("  passwd --email EMAIL                    Change a user's password")
	fmt.Println("  users [--limit N]                       List users")
	fmt.Println("  token --user ID [--ttl 24h]             Issue an API token for a user")
	fmt.Println("  credential --user ID --provider NAME    Print a user's decrypted provider key")
	fmt.Println("  audit [--user ID] [--action A] [--since 24h] [--limit N]")
	fmt.Println("                                          Show the audit log")
	fmt.Println("  health                                  Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "adduser":
		err = runAddUser(ctx, args)
	case "passwd":
		err = runPasswd(ctx, args)
	case "users":
		err = runUsers(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "credential":
		err = runCredential(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (string, *config.Config, error) {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return configPath, nil, fmt.Errorf("loading config: %w", err)
	}
	return configPath, cfg, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	configPath, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting coven-keyring",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
