package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/runner"
)

func main() {
	// Optional .env next to the binary; flags still win.
	_ = godotenv.Load()

	var (
		guestPath   = flag.String("guest", envOr("SANDBOX_GUEST", runner.DefaultGuestPath), "Path to guest wasm binary")
		cachePath   = flag.String("cache", "", "Path to compiled artifact (default <guest>.compiled)")
		id          = flag.String("id", "", "Environment id passed to the guest (default random)")
		tags        = flag.String("tags", os.Getenv("SANDBOX_LOG_TAGS"), "Log tags passed to the guest")
		force       = flag.Bool("force", false, "Ignore the cached artifact and recompile")
		stdio       = flag.Bool("stdio", false, "Wire guest stdio to this process")
		verbose     = flag.Bool("v", false, "Verbose host diagnostics")
		interactive = flag.Bool("i", false, "Interactive console")
		send        = flag.String("send", "", "Payload to queue for the guest before it starts")
	)
	flag.Parse()

	if *id == "" {
		*id = uuid.NewString()
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*guestPath, *cachePath, *id, *tags, *force, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*guestPath, *cachePath, *id, *tags, *send, *force, *stdio, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func run(guestPath, cachePath, id, tags, send string, force, stdio, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handles := sandbox.NewPipeHandles(16)
	handles.OnLog(func(msg string) {
		fmt.Fprintf(os.Stderr, "[guest] %s\n", msg)
	})
	go func() {
		for payload := range handles.Output() {
			fmt.Printf("<- %s\n", payload)
		}
	}()

	if send != "" {
		if err := handles.Push(ctx, []byte(send)); err != nil {
			return err
		}
	}

	r, err := runner.New(ctx, runner.Config{
		ID:             id,
		Handles:        handles,
		LogTags:        tags,
		HasLogTags:     tags != "",
		GuestPath:      guestPath,
		CachePath:      cachePath,
		InheritStdio:   stdio,
		ForceRecompile: force,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close(context.Background()) }()

	fmt.Printf("Running %s (id %s)\n", guestPath, id)
	return r.Run(ctx)
}
