package wa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotLoggedIn = errors.New("session is not logged in")
	ErrNoAnchor    = errors.New("no known message to anchor a history request")
)

// Adapter wraps the whatsmeow client. It is the remote history source and
// the media downloader of the sync pipeline.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	router    *HistoryRouter
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
}

// NewAdapter opens the whatsmeow device store of the given session.
func NewAdapter(ctx context.Context, sessionName string, router *HistoryRouter, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wppsync", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", session.SessionDBPath(sessionName)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	if router == nil {
		router = NewHistoryRouter(nil, logger)
	}
	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		router:    router,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// FetchHistory asks the primary device for up to count messages older than
// cursor and waits for the answer until ctx expires. Without a cursor the
// request is anchored on the newest message known for the conversation,
// which is returned first.
func (a *Adapter) FetchHistory(ctx context.Context, conversationID string, cursor *intsync.Cursor, count int) ([]store.FetchedRecord, error) {
	if !a.IsLoggedIn() {
		return nil, backoff.Permanent(ErrNotLoggedIn)
	}
	chat, err := types.ParseJID(conversationID)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse JID: %w", err))
	}
	chat = chat.ToNonAD()
	chatID := chat.String()

	var lead []store.FetchedRecord
	var anchor *types.MessageInfo
	if cursor != nil {
		anchor = messageInfo(chat, cursor.LastMessageID, cursor.LastTimestamp, cursor.LastFromSelf)
	} else {
		rec, ok := a.router.Anchor(chatID)
		if !ok {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNoAnchor, chatID))
		}
		anchor = messageInfo(chat, rec.MessageID, rec.Timestamp, rec.SenderIsSelf)
		lead = append(lead, rec)
		if count > 1 {
			count--
		}
	}

	ch, release, err := a.router.Await(chatID)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	defer release()

	req := a.client.BuildHistorySyncRequest(anchor, count)
	if _, err := a.client.SendMessage(ctx, a.client.Store.ID.ToNonAD(), req, whatsmeow.SendRequestExtra{Peer: true}); err != nil {
		return nil, fmt.Errorf("send history request: %w", err)
	}
	a.logger.Debug("history request sent",
		zap.String("chat", chatID),
		zap.String("before", anchor.ID),
		zap.Int("count", count))

	select {
	case recs := <-ch:
		return append(lead, recs...), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for history response: %w", ctx.Err())
	}
}

// DownloadPayload downloads and decrypts the media referenced by a
// marshalled message. An empty ref yields no data.
func (a *Adapter) DownloadPayload(ctx context.Context, rawPayloadRef []byte) ([]byte, error) {
	if len(rawPayloadRef) == 0 {
		return nil, nil
	}
	var msg waE2E.Message
	if err := proto.Unmarshal(rawPayloadRef, &msg); err != nil {
		return nil, fmt.Errorf("decode payload ref: %w", err)
	}
	data, err := a.client.DownloadAny(ctx, &msg)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

func messageInfo(chat types.JID, id string, ts int64, fromSelf bool) *types.MessageInfo {
	info := &types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:     chat,
			IsFromMe: fromSelf,
			IsGroup:  chat.Server == types.GroupServer,
		},
		ID: id,
	}
	if ts > 0 {
		info.Timestamp = time.Unix(ts, 0)
	}
	return info
}
