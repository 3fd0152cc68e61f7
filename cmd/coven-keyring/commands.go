// ABOUTME: Operator commands for coven-keyring: init, user management, tokens, credentials, audit
// ABOUTME: Open the store directly with the same protection the server uses

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/coven-keyring/internal/config"
	"github.com/2389/coven-keyring/internal/server"
	"github.com/2389/coven-keyring/internal/store"
	"github.com/2389/coven-keyring/internal/user"
)

// parseFlags parses "--name value" and "--name=value" pairs. Only the listed
// names are accepted; boolean flags are listed in switches.
func parseFlags(args []string, names []string, switches []string) (map[string]string, error) {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	isSwitch := make(map[string]bool, len(switches))
	for _, n := range switches {
		isSwitch[n] = true
	}

	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isSwitch[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			flags[name] = "true"
		case allowed[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			flags[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return flags, nil
}

// requireFlag returns a trimmed, non-empty flag value.
func requireFlag(flags map[string]string, name string) (string, error) {
	v := strings.TrimSpace(flags[name])
	if v == "" {
		return "", fmt.Errorf("--%s flag is required", name)
	}
	return v, nil
}

// openComponents loads config and opens the store for an operator command.
func openComponents() (*config.Config, *server.Components, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logging := cfg.Logging
	if logging.Level != "debug" {
		logging.Level = "warn"
	}
	logger := setupLogger(logging)

	c, err := server.NewComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

// recordAudit appends an operator audit entry. Failure is reported, not fatal.
func recordAudit(ctx context.Context, c *server.Components, action store.AuditAction, userID string, detail map[string]any) {
	err := c.Store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:  store.ActorOperator,
		Action: action,
		UserID: userID,
		Detail: detail,
	})
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "  ! audit log not written: %v\n", err)
	}
}

// readPassword reads a password without echo from a terminal, or one line
// from stdin when it is not a terminal.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(os.Stdin)
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password cannot be empty")
	}
	return line, nil
}

// generateSecret returns n random bytes, base64 encoded.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func renderInitConfig(dbPath, jwtSecret, encryptionKey string) string {
	return fmt.Sprintf(`# coven-keyring configuration
# Generated by coven-keyring init

server:
  http_addr: "localhost:8080"
  # grpc_addr: "localhost:50052"

database:
  path: %q

auth:
  jwt_secret: %q
  encryption_key: %q
  bcrypt_cost: 10
  token_ttl: "24h"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, encryptionKey)
}

// runInit writes a config file with freshly generated secrets.
func runInit(args []string) error {
	flags, err := parseFlags(args, []string{"path"}, []string{"force"})
	if err != nil {
		return err
	}

	configPath := flags["path"]
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	if _, err := os.Stat(configPath); err == nil && flags["force"] == "" {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	jwtSecret, err := generateSecret(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	encryptionKey, err := generateSecret(32)
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "keyring.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(renderInitConfig(dbPath, jwtSecret, encryptionKey)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Printf("    Database: %s\n", dbPath)
	fmt.Println()
	yellow.Println("  Keep this file private. Losing encryption_key makes stored credentials unreadable.")
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    coven-keyring adduser --name \"Your Name\" --email you@example.com")
	fmt.Println("    coven-keyring serve")
	return nil
}

func runAddUser(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"name", "email"}, nil)
	if err != nil {
		return err
	}
	name, err := requireFlag(flags, "name")
	if err != nil {
		return err
	}
	email, err := requireFlag(flags, "email")
	if err != nil {
		return err
	}

	pw, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	_, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	u := user.New(name, email, pw)
	if err := c.Store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	recordAudit(ctx, c, store.AuditCreateUser, u.ID, nil)

	color.New(color.FgGreen).Printf("  ✓ Created user %s\n", u.ID)
	fmt.Printf("    Name:  %s\n", u.Name)
	fmt.Printf("    Email: %s\n", u.Email)
	return nil
}

func runPasswd(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"email"}, nil)
	if err != nil {
		return err
	}
	email, err := requireFlag(flags, "email")
	if err != nil {
		return err
	}

	_, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := c.Store.FindByEmail(ctx, email, store.Exclude(user.FieldPassword, user.FieldCredentials))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user with email %s", email)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	pw, err := readPassword("New password: ")
	if err != nil {
		return err
	}

	u.SetPassword(pw)
	if err := c.Store.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	recordAudit(ctx, c, store.AuditChangePassword, u.ID, nil)

	color.New(color.FgGreen).Printf("  ✓ Password updated for %s\n", email)
	return nil
}

func runUsers(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"limit"}, nil)
	if err != nil {
		return err
	}
	limit := 0
	if v := flags["limit"]; v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return fmt.Errorf("--limit must be a non-negative integer")
		}
	}

	_, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	users, err := c.Store.ListUsers(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tPROVIDER\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.PreferredProvider, u.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user", "ttl"}, nil)
	if err != nil {
		return err
	}
	userID, err := requireFlag(flags, "user")
	if err != nil {
		return err
	}

	cfg, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	ttl := cfg.Auth.TokenTTL
	if v := flags["ttl"]; v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("--ttl must be a positive duration like 1h or 30m")
		}
	}

	if _, err := c.Store.FindByID(ctx, userID, store.Exclude(user.FieldPassword, user.FieldCredentials)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user with id %s", userID)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	token, err := c.Verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	recordAudit(ctx, c, store.AuditIssueToken, userID, map[string]any{"ttl_seconds": int64(ttl.Seconds())})

	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func runCredential(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user", "provider"}, nil)
	if err != nil {
		return err
	}
	userID, err := requireFlag(flags, "user")
	if err != nil {
		return err
	}
	provider, err := requireFlag(flags, "provider")
	if err != nil {
		return err
	}
	if _, err := user.ParseProvider(provider); err != nil {
		return err
	}

	_, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := c.Store.FindByID(ctx, userID, store.Exclude(user.FieldPassword))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user with id %s", userID)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	key, err := u.DecryptedCredential(c.Cipher, provider)
	if err != nil {
		return fmt.Errorf("reading %s credential: %w", provider, err)
	}
	if key == "" {
		return fmt.Errorf("no %s credential configured for user %s", provider, userID)
	}

	recordAudit(ctx, c, store.AuditRevealCredential, userID, map[string]any{"provider": provider})

	fmt.Println(key)
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user", "action", "since", "limit"}, nil)
	if err != nil {
		return err
	}

	var filter store.AuditFilter
	if v := flags["user"]; v != "" {
		filter.UserID = &v
	}
	if v := flags["action"]; v != "" {
		action, err := store.ParseAuditAction(v)
		if err != nil {
			return err
		}
		filter.Action = &action
	}
	if v := flags["since"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("--since must be a positive duration like 24h")
		}
		since := time.Now().Add(-d)
		filter.Since = &since
	}
	if v := flags["limit"]; v != "" {
		filter.Limit, err = strconv.Atoi(v)
		if err != nil || filter.Limit < 1 {
			return fmt.Errorf("--limit must be a positive integer")
		}
	}

	_, c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Store.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tUSER\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Actor, e.Action, e.UserID, formatDetail(e.Detail))
	}
	return tw.Flush()
}

// formatDetail renders detail as sorted key=value pairs.
func formatDetail(detail map[string]any) string {
	keys := slices.Sorted(maps.Keys(detail))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
