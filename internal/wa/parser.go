package wa

import (
	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// NormalizeJID strips the device part of a JID string so every device of a
// user maps to the same conversation. Unparseable input is returned as is.
func NormalizeJID(jid string) string {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

// ParseWebMessage converts a history sync message into a fetched record.
// It reports false for entries without a message body, such as stubs.
func ParseWebMessage(chatJID string, wmi *waWeb.WebMessageInfo) (store.FetchedRecord, bool) {
	msg := unwrap(wmi.GetMessage())
	if msg == nil || wmi.GetKey().GetID() == "" {
		return store.FetchedRecord{}, false
	}
	return newRecord(
		NormalizeJID(chatJID),
		wmi.GetKey().GetID(),
		int64(wmi.GetMessageTimestamp()),
		wmi.GetKey().GetFromMe(),
		msg,
	), true
}

// ParseLiveMessage converts a live message event into a fetched record.
func ParseLiveMessage(evt *events.Message) (store.FetchedRecord, bool) {
	msg := unwrap(evt.Message)
	if msg == nil || evt.Info.ID == "" {
		return store.FetchedRecord{}, false
	}
	var ts int64
	if !evt.Info.Timestamp.IsZero() {
		ts = evt.Info.Timestamp.Unix()
	}
	return newRecord(evt.Info.Chat.ToNonAD().String(), evt.Info.ID, ts, evt.Info.IsFromMe, msg), true
}

func newRecord(chat, id string, ts int64, fromMe bool, msg *waE2E.Message) store.FetchedRecord {
	rec := store.FetchedRecord{
		ConversationID: chat,
		MessageID:      id,
		Timestamp:      ts,
		SenderIsSelf:   fromMe,
		Kind:           DetectKind(msg),
	}
	if rec.Kind.IsMedia() {
		mimeType, caption := mediaInfo(msg)
		rec.Media = &store.MediaMetadata{MimeType: mimeType, Caption: caption}
		// The marshalled message carries the keys DownloadAny needs.
		if ref, err := proto.Marshal(msg); err == nil {
			rec.RawPayloadRef = ref
		}
	}
	return rec
}

// unwrap peels the ephemeral, view-once and captioned-document envelopes.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	for msg != nil {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return nil
}

// DetectKind classifies a message by its payload.
func DetectKind(msg *waE2E.Message) store.Kind {
	if msg == nil {
		return store.KindUnknown
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return store.KindText
	case msg.GetImageMessage() != nil:
		return store.KindImage
	case msg.GetVideoMessage() != nil:
		return store.KindVideo
	case msg.GetAudioMessage() != nil:
		return store.KindAudio
	case msg.GetDocumentMessage() != nil:
		return store.KindDocument
	case msg.GetStickerMessage() != nil:
		return store.KindSticker
	case msg.GetContactMessage() != nil:
		return store.KindContact
	case msg.GetLocationMessage() != nil:
		return store.KindLocation
	default:
		return store.KindUnknown
	}
}

func mediaInfo(msg *waE2E.Message) (mimeType, caption string) {
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return m.GetMimetype(), m.GetCaption()
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		return m.GetMimetype(), m.GetCaption()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetMimetype(), ""
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return m.GetMimetype(), m.GetCaption()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetMimetype(), ""
	}
	return "", ""
}
