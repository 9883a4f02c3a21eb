package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/pipeline"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("wppsync", flag.ContinueOnError)
	sessionFlag := global.String("session", "", "session name (overrides config default)")
	global.Usage = printUsage
	if err := global.Parse(args); err != nil {
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage()
		return 2
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cfg, err := config.Resolve(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := app.Params{SessionName: sessionName, Config: cfg, Command: rest[0]}
	switch rest[0] {
	case "sync":
		return cmdSync(ctx, p, rest[1:])
	case "login":
		return cmdLogin(ctx, p, rest[1:])
	case "logout":
		return cmdLogout(ctx, p)
	case "status":
		return cmdStatus(ctx, p)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", rest[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppsync [--session <name>] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login     Pair this device by scanning a QR code")
	fmt.Fprintln(os.Stderr, "  logout    Unlink this device")
	fmt.Fprintln(os.Stderr, "  status    Show whether the session is paired")
	fmt.Fprintln(os.Stderr, "  sync      Fetch history, correlate a transcript and download media")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "run 'wppsync <command> -h' for command flags")
}

// sessionApp is a started fx application and the components commands use.
type sessionApp struct {
	fx      *fx.App
	runner  *pipeline.Runner
	adapter *wa.Adapter
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

func start(ctx context.Context, p app.Params) (*sessionApp, error) {
	var s sessionApp
	s.fx = fx.New(
		app.Module(p),
		fx.Populate(&s.runner, &s.adapter, &s.machine, &s.bus, &s.logger),
	)
	if err := s.fx.Err(); err != nil {
		return nil, err
	}
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.fx.Start(startCtx); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *sessionApp) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.fx.Stop(ctx)
}

// waitConnected blocks until the session is connected.
func (s *sessionApp) waitConnected(ctx context.Context, timeout time.Duration) error {
	if !s.adapter.IsLoggedIn() {
		return fmt.Errorf("session is not paired; run 'wppsync login' first")
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.machine.WaitFor(waitCtx, status.Syncing, status.Ready)
	return err
}

func cmdStatus(ctx context.Context, p app.Params) int {
	s, err := start(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.stop()

	fmt.Printf("Session: %s\n", p.SessionName)
	if !s.adapter.IsLoggedIn() {
		fmt.Println("Status:  not paired")
		return 0
	}
	fmt.Printf("Status:  paired as +%s\n", s.adapter.PhoneNumber())
	fmt.Printf("Output:  %s\n", app.OutputDir(p))
	return 0
}
