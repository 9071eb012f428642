// ABOUTME: Entry point for runstream-gateway, the streaming chat server
// ABOUTME: Subcommands serve, init, token and health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/runstream/internal/auth"
	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
                       _
 _ __ _   _ _ __  ___| |_ _ __ ___  __ _ _ __ ___
| '__| | | | '_ \/ __| __| '__/ _ \/ _' | '_ ' _ \
| |  | |_| | | | \__ \ |_| | |  __/ (_| | | | | | |
|_|   \__,_|_| |_|___/\__|_|  \___|\__,_|_| |_| |_|
`

// defaultTokenTTL is 30 days.
const defaultTokenTTL = 720 * time.Hour

// getDataPath returns $XDG_DATA_HOME/runstream, falling back to
// ~/.local/share/runstream.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "runstream")
}

func usage() {
	fmt.Println("Usage: runstream-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the gateway server")
	fmt.Println("  init                         Create a new config file interactively")
	fmt.Println("  token --sub ID [--ttl 720h]  Issue a bearer token for a principal")
	fmt.Println("  health                       Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
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

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    ")
	ids := make([]string, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		ids = append(ids, a.ID)
	}
	cyan.Println(strings.Join(ids, ", "))
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled, every request is anonymous")
	}
	if cfg.Balance.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Balance:   %d credits per principal\n", cfg.Balance.StartCredits)
	}
	fmt.Println()

	logger.Info("starting runstream-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"agents", len(cfg.Agents),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// runToken signs a token for --sub and saves it next to the config file,
// where runstream-tui looks for it.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "principal ID to issue the token for")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	noSave := fs.Bool("no-save", false, "print the token without writing the token file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	principalID := strings.TrimSpace(*sub)
	if principalID == "" {
		return fmt.Errorf("--sub flag is required")
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(principalID, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	if *noSave {
		return nil
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	color.New(color.FgGreen).Fprintf(os.Stderr, "  ✓ Saved token: %s (expires %s)\n",
		tokenPath, time.Now().Add(*ttl).UTC().Format("Jan 02, 2006"))
	return nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("runstream-gateway configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "gateway.db")
	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Auth Configuration ---")
	var jwtSecret string
	if isYes(prompt(reader, "Require bearer tokens?", "yes")) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	fmt.Println("\n--- Balance Configuration ---")
	balanceEnabled := isYes(prompt(reader, "Enforce token credits?", "no"))
	startCredits := "0"
	if balanceEnabled {
		startCredits = prompt(reader, "Starting credits per principal", "100000")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# runstream-gateway configuration\n")
	cfg.WriteString("# Generated by runstream-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n\n", jwtSecret))
	}

	cfg.WriteString("balance:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", balanceEnabled))
	cfg.WriteString(fmt.Sprintf("  start_credits: %s\n\n", startCredits))

	cfg.WriteString("runs:\n")
	cfg.WriteString("  abort_wait: \"5s\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("agents:\n")
	cfg.WriteString("  - id: \"echo\"\n")
	cfg.WriteString("    name: \"Echo\"\n")
	cfg.WriteString("    provider: \"openAI\"\n")
	cfg.WriteString("    model_options:\n")
	cfg.WriteString("      model: \"echo-1\"\n")
	cfg.WriteString("    tools: [\"clock\", \"word_count\"]\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	if jwtSecret != "" {
		fmt.Println("  runstream-gateway token --sub me")
	}
	fmt.Println("  runstream-gateway serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
