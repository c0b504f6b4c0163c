package ledger

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxMediaSize is the largest media payload accepted in a post.
const MaxMediaSize = 5 * 1024 * 1024

// Kind is the type of content a post carries.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindVideo:
		return true
	}
	return false
}

// MediaInfo describes an embedded media payload.
type MediaInfo struct {
	Name      string `json:"name,omitempty"`
	SizeBytes uint64 `json:"size_bytes,omitempty"`
}

// Post is the content embedded in a block. Content is either the text body
// or, for audio and video, a data URL carrying the encoded media.
type Post struct {
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	Kind      Kind       `json:"kind"`
	MediaInfo *MediaInfo `json:"media_info,omitempty"`
}

// NewTextPost returns a text post.
func NewTextPost(author, content string) Post {
	return Post{Author: author, Content: content, Kind: KindText}
}

// NewMediaPost encodes data as a data URL post. The kind is audio when the
// detected MIME type is audio, video otherwise.
func NewMediaPost(author, name string, data []byte) (Post, error) {
	if len(data) > MaxMediaSize {
		return Post{}, fmt.Errorf("%w: %d bytes, limit %d", ErrMediaTooLarge, len(data), MaxMediaSize)
	}
	if len(data) == 0 {
		return Post{}, fmt.Errorf("%w: empty media payload", ErrInvalidPost)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	kind := KindVideo
	if strings.HasPrefix(mimeType, "audio/") {
		kind = KindAudio
	}
	p := Post{
		Author:  author,
		Content: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		Kind:    kind,
		MediaInfo: &MediaInfo{
			Name:      filepath.Base(name),
			SizeBytes: uint64(len(data)),
		},
	}
	return p, p.Validate()
}

// Validate checks that p can be recorded.
func (p Post) Validate() error {
	if strings.TrimSpace(p.Author) == "" {
		return fmt.Errorf("%w: author name cannot be empty", ErrInvalidPost)
	}
	// The hash is taken over the JSON form, which rewrites invalid UTF-8.
	if !utf8.ValidString(p.Author) || !utf8.ValidString(p.Content) {
		return fmt.Errorf("%w: text must be valid UTF-8", ErrInvalidPost)
	}
	if p.MediaInfo != nil && !utf8.ValidString(p.MediaInfo.Name) {
		return fmt.Errorf("%w: media name must be valid UTF-8", ErrInvalidPost)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPost, p.Kind)
	}
	if p.Kind == KindText {
		if strings.TrimSpace(p.Content) == "" {
			return fmt.Errorf("%w: content cannot be empty", ErrInvalidPost)
		}
		return nil
	}
	if !strings.HasPrefix(p.Content, "data:") {
		return fmt.Errorf("%w: %s post must carry a data URL", ErrInvalidPost, p.Kind)
	}
	return nil
}
