package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/skip2/go-qrcode"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth begins the QR pairing flow. The returned channel is closed
// once pairing succeeds, fails or times out.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			a.emitAuth(out, AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				a.emitAuth(out, AuthEvent{Type: AuthEventQRCode, QRCode: item.Code})
			case "success":
				a.emitAuth(out, AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"})
				return
			case "timeout":
				a.emitAuth(out, AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"})
				return
			default:
				if item.Error != nil {
					a.emitAuth(out, AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()})
					return
				}
			}
		}
	}()

	return out, nil
}

func (a *Adapter) emitAuth(out chan<- AuthEvent, evt AuthEvent) {
	out <- evt
	if a.bus == nil {
		return
	}
	kind, payload := "session.auth_failed", any(evt.Message)
	switch evt.Type {
	case AuthEventQRCode:
		kind, payload = "session.qr_generated", evt.QRCode
	case AuthEventAuthenticated:
		kind, payload = "session.authenticated", nil
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// RenderQR draws a pairing code as terminal block characters.
func RenderQR(code string) (string, error) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return q.ToSmallString(false), nil
}
