package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/zap"
)

func cmdLogin(ctx context.Context, p app.Params, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	settle := fs.Duration("settle", 45*time.Second, "how long to stay connected after pairing so the initial history arrives")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := start(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.stop()

	if s.adapter.IsLoggedIn() {
		fmt.Printf("Session %q is already paired as +%s\n", p.SessionName, s.adapter.PhoneNumber())
		return 0
	}

	events, err := s.adapter.StartQRAuth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			qr, err := wa.RenderQR(evt.QRCode)
			if err != nil {
				s.logger.Warn("failed to render QR code", zap.Error(err))
				fmt.Println(evt.QRCode)
				continue
			}
			fmt.Println("Scan with WhatsApp > Linked devices > Link a device:")
			fmt.Println(qr)
		case wa.AuthEventAuthenticated:
			fmt.Println("Paired. Receiving initial history...")
		case wa.AuthEventTimeout, wa.AuthEventAuthFailed:
			fmt.Fprintf(os.Stderr, "error: pairing failed: %s\n", evt.Message)
			return 1
		}
	}

	// Initial history syncs seed the anchors later history requests start from.
	select {
	case <-time.After(*settle):
	case <-ctx.Done():
	}
	fmt.Println("Done.")
	return 0
}

func cmdLogout(ctx context.Context, p app.Params) int {
	p.Connect = true
	s, err := start(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.stop()

	if err := s.waitConnected(ctx, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := s.adapter.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: logout: %v\n", err)
		return 1
	}
	fmt.Printf("Session %q unlinked\n", p.SessionName)
	return 0
}
