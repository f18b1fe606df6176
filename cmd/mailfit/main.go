// Package main is the CLI entry point for mailfit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mailfit/mailfit/internal/agent"
	"github.com/mailfit/mailfit/internal/browser"
	"github.com/mailfit/mailfit/internal/config"
	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/score"
	"github.com/mailfit/mailfit/internal/server"
	"github.com/mailfit/mailfit/internal/store"
	"github.com/mailfit/mailfit/internal/usage"
	"github.com/mailfit/mailfit/internal/verify"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailfit",
	Short: "Mobile preview and readiness scoring for webmail composes",
	Long: `mailfit attaches to a running Chrome with remote debugging enabled,
watches Gmail and Outlook tabs for compose dialogs, mirrors the draft
into a phone-width preview overlay and scores its mobile readiness.

Start Chrome with --remote-debugging-port=9222 (or any port), then run
'mailfit run'.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to Chrome and start watching webmail tabs",
	Long: `Attaches to the local Chrome DevTools endpoint (auto-discovered from
the process list unless MAILFIT_DEVTOOLS_URL is set), starts the tab
watcher and serves the popup API on the configured loopback address.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current compose state",
	Long:  `Queries the running agent's popup API for the canonical compose state.`,
	RunE:  runStatus,
}

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score a draft from a file or stdin, without the browser",
	Long: `Runs the mobile readiness heuristics over a draft read from the given
file, or stdin when no file is named. Input containing markup is
treated as HTML; plain text otherwise.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show send quota usage for the current period",
	RunE:  runUsage,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <session-id>",
	Short: "Verify a payment session and unlock unlimited sends",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	jsonOutput   bool
	scoreSubject string
)

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	scoreCmd.Flags().StringVar(&scoreSubject, "subject", "", "Subject line to score alongside the body")
	scoreCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full score breakdown as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("mailfit starting",
		zap.String("version", Version),
		zap.String("data_dir", cfg.DataDir))

	// Durable stores: plain KV for usage records and settings, the
	// encrypted store for the unlock flag and milestones.
	kv, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}

	key, err := store.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return fmt.Errorf("failed to prepare encryption key: %w", err)
	}
	unlock, err := store.NewEncryptedUnlockStore(cfg.DataDir, key)
	if err != nil {
		return fmt.Errorf("failed to open unlock store: %w", err)
	}
	defer func() { _ = unlock.Close() }()

	gate := usage.NewGate(kv, unlock, cfg.QuotaLimit, usage.Period(cfg.QuotaPeriod), logger)
	coordinator := relay.New(gate, unlock, kv, logger)
	verifier := verify.NewClient(cfg.VerifyURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	chrome, err := browser.Connect(ctx, cfg.DevToolsURL, logger)
	if err != nil {
		return err
	}
	defer chrome.Close()

	a := agent.New(cfg, chrome, coordinator, gate, unlock, score.NewScorer(), logger)
	srv := server.New(cfg.ListenAddr, server.NewHandler(coordinator, verifier, logger), logger)

	errCh := make(chan error, 3)
	go func() { errCh <- coordinator.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()
	go func() { errCh <- a.Run(ctx) }()

	err = <-errCh
	cancel()
	if err == context.Canceled {
		return nil
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	var state domain.EmailState
	if err := apiGet("/api/state", &state); err != nil {
		fmt.Println("mailfit is not running (popup API unreachable)")
		fmt.Println("\nRun 'mailfit run' to start it.")
		return nil
	}

	fmt.Println("\n=== mailfit Status ===")
	if !state.IsActive {
		fmt.Println("No compose dialog open.")
	} else {
		fmt.Printf("Environment: %s\n", state.Environment)
		fmt.Printf("Subject: %q (%d chars)\n", state.Subject, len([]rune(state.Subject)))
		fmt.Printf("Body: %d words, %d chars\n", state.WordCount, state.CharacterCount)
		fmt.Printf("Traffic light: %s\n", state.TrafficLight)
		if state.MobileScore != nil {
			fmt.Printf("Mobile score: %d (%s)\n", state.MobileScore.Score, state.MobileScore.Grade)
			for _, s := range state.MobileScore.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
		}
	}
	fmt.Println("======================")
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	var (
		input []byte
		err   error
	)
	if len(args) == 1 {
		input, err = os.ReadFile(args[0])
	} else {
		input, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read draft: %w", err)
	}

	body := string(input)
	var text, html string
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		html = body
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to parse draft HTML: %w", err)
		}
		text = doc.Text()
	} else {
		text = body
	}

	result := score.NewScorer().Score(text, html, scoreSubject)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("\nMobile readiness: %d/100 (%s)\n", result.Score, result.Grade)
	fmt.Println("\nBreakdown:")
	for name, factor := range result.Breakdown {
		fmt.Printf("  %-20s %3d/%d  %s\n", name, factor.Score, factor.MaxScore, factor.Feedback)
	}
	if len(result.Suggestions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, s := range result.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	var status domain.UsageStatus
	if err := apiGet("/api/usage", &status); err != nil {
		fmt.Println("mailfit is not running (popup API unreachable)")
		return nil
	}

	fmt.Println("\n=== Send Quota ===")
	if status.Unlimited {
		fmt.Println("Unlimited sends (unlocked)")
	} else {
		fmt.Printf("Remaining: %d of %d this period\n", status.Remaining, status.Limit)
		if status.ApproachingLimit {
			fmt.Println("Approaching the limit.")
		}
		if !status.Allowed {
			fmt.Println("Limit reached. Run 'mailfit unlock <session-id>' after purchase.")
		}
	}
	fmt.Println("==================")
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	payload := fmt.Sprintf(`{"sessionId": %q}`, args[0])
	resp, err := http.Post(apiURL("/api/unlock"), "application/json", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("popup API unreachable; is 'mailfit run' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("unlock failed: %s", body.Error)
	}

	fmt.Println("Unlocked. Unlimited sends enabled.")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("mailfit %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func apiURL(path string) string {
	addr := os.Getenv("MAILFIT_LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8457"
	}
	return "http://" + addr + path
}

func apiGet(path string, out any) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(apiURL(path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func createLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
