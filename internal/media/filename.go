package media

import (
	"mime"
	"net/url"
	"strconv"
	"strings"
)

var extensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/jpg":          ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"image/heic":         ".heic",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"video/quicktime":    ".mov",
	"video/webm":         ".webm",
	"audio/ogg":          ".ogg",
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"audio/aac":          ".aac",
	"audio/amr":          ".amr",
	"audio/wav":          ".wav",
	"application/pdf":    ".pdf",
	"application/zip":    ".zip",
	"text/plain":         ".txt",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

// DefaultExtension is used for mime types missing from the table.
const DefaultExtension = ".bin"

// ExtensionFor maps a mime type (parameters allowed) to a file extension.
func ExtensionFor(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	return DefaultExtension
}

// FileName builds "{label}_{timestamp}_{messageID}{ext}". Message ids are
// unique per conversation, so names never collide within one conversation
// directory. Components are escaped so the name stays inside it.
func FileName(label string, timestamp int64, messageID, mimeType string) string {
	var b strings.Builder
	b.WriteString(sanitize(label))
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('_')
	b.WriteString(sanitize(messageID))
	b.WriteString(ExtensionFor(mimeType))
	return b.String()
}

// sanitize percent-escapes path separators and other unsafe bytes. The
// escaping is reversible, so distinct ids stay distinct.
func sanitize(s string) string {
	return url.PathEscape(s)
}

// SanitizeLabel makes a conversation label safe to use as a directory name.
func SanitizeLabel(label string) string {
	s := sanitize(label)
	if s == "" || s == "." || s == ".." {
		return "conversation"
	}
	return s
}
