// weft runs declarative multi-agent workflows: agents talk over a shared
// channel exposed as MCP tools, and the run ends on global idle.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jharju/weft/internal/policy"
	"github.com/jharju/weft/internal/repository"
	"github.com/jharju/weft/internal/repository/sqlite"
	"github.com/jharju/weft/internal/scheduler"
	"github.com/jharju/weft/internal/workflow"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println("weft " + scheduler.Version)
	case "runs":
		runsCommand()
	case "run":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		runCommand(args[1])
	case "help", "--help", "-h":
		usage()
	default:
		// Bare workflow path is shorthand for run.
		runCommand(args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  weft run <workflow.yaml>   run a workflow (also: weft <workflow.yaml>)
  weft runs                  list recent runs
  weft version               print the version

Environment:
  WEFT_CONFIG   path to a policy YAML file`)
}

// runCommand runs one workflow to completion.
func runCommand(path string) {
	// Backend API keys and similar live in .env during development.
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := setupLogger(cfg.ResolvedLogFile())

	wf, err := workflow.Load(path)
	if err != nil {
		logger.Fatalf("weft: %v", err)
	}

	ledger := openLedger(cfg, logger)
	defer func() { _ = ledger.Close() }()

	projectDir, err := os.Getwd()
	if err != nil {
		logger.Fatalf("weft: working directory: %v", err)
	}

	sched, err := scheduler.New(wf, cfg, scheduler.Options{
		ProjectDir: projectDir,
		Ledger:     ledger,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("weft: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := sched.Run(ctx); err != nil {
		logger.Printf("weft: %v", err)
		os.Exit(1)
	}
}

// runsCommand lists recent runs from the ledger.
func runsCommand() {
	cfg := loadConfig()
	path := cfg.ResolvedLedgerFile()
	if path == "" {
		fmt.Fprintln(os.Stderr, "weft: run ledger is disabled in config")
		os.Exit(1)
	}
	store, err := sqlite.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weft: open ledger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.Recent(20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weft: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return
	}
	fmt.Printf("%-10s %-20s %-20s %-10s %5s  %s\n", "ID", "WORKFLOW", "STARTED", "DURATION", "MSGS", "EXIT")
	for _, r := range runs {
		duration := "-"
		exit := r.ExitReason
		if r.EndedAt.IsZero() {
			exit = "running?"
		} else {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%-10s %-20s %-20s %-10s %5d  %s\n",
			r.ID, r.Workflow, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration, r.Messages, exit)
	}
}

// loadConfig loads policy configuration from WEFT_CONFIG or defaults.
func loadConfig() *policy.Config {
	path := os.Getenv("WEFT_CONFIG")
	if path == "" {
		return policy.DefaultConfig()
	}
	cfg, err := policy.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[weft] Warning: %v, using defaults\n", err)
		return policy.DefaultConfig()
	}
	return cfg
}

// openLedger opens the sqlite run ledger, or a no-op when disabled or broken.
func openLedger(cfg *policy.Config, logger *log.Logger) repository.Ledger {
	path := cfg.ResolvedLedgerFile()
	if path == "" {
		return repository.Nop{}
	}
	store, err := sqlite.New(path)
	if err != nil {
		logger.Printf("Warning: run ledger disabled: %v", err)
		return repository.Nop{}
	}
	return store
}

// setupLogger creates a logger that writes to a log file and optionally stderr.
// When stderr is redirected (daemon mode), logs go only to the file to avoid
// duplicate lines.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[weft] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[weft] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}
	return log.New(io.MultiWriter(writers...), "[weft] ", log.LstdFlags)
}
