package store

// Kind classifies a message by its payload.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindContact  Kind = "contact"
	KindLocation Kind = "location"
	KindUnknown  Kind = "unknown"
)

// IsMedia reports whether messages of this kind carry a downloadable payload.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// MediaMetadata describes the binary payload of a media message.
type MediaMetadata struct {
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// FetchedRecord is a message obtained from the live session's history API.
// MessageID is unique per conversation. Timestamp is in unix seconds; zero
// means the remote did not report one.
type FetchedRecord struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      int64          `json:"timestamp"`
	SenderIsSelf   bool           `json:"sender_is_self"`
	Kind           Kind           `json:"kind"`
	Media          *MediaMetadata `json:"media,omitempty"`
	RawPayloadRef  []byte         `json:"-"`
}

// IsMedia reports whether the record carries a downloadable payload.
func (r *FetchedRecord) IsMedia() bool {
	return r.Media != nil || r.Kind.IsMedia()
}

// MimeType returns the payload mime type, or "" for non-media records.
func (r *FetchedRecord) MimeType() string {
	if r.Media == nil {
		return ""
	}
	return r.Media.MimeType
}

// Caption returns the media caption, or "".
func (r *FetchedRecord) Caption() string {
	if r.Media == nil {
		return ""
	}
	return r.Media.Caption
}

// ManifestRow mirrors a downloaded media artifact into the app database.
type ManifestRow struct {
	RunID           string
	ConversationID  string
	FileName        string
	StoragePath     string
	SourceMessageID string
	MimeType        string
	ByteSize        int64
	DownloadedAt    int64
}
