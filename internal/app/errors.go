package app

import (
	"errors"

	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

var (
	ErrEmptyContent    = errors.New("empty content")
	ErrMissingPageURL  = errors.New("missing pageUrl")
	ErrNoSubtitle      = errors.New("no subtitle available")
	ErrUnknownAction   = errors.New("unknown action")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Codes stables renvoyés aux consommateurs du protocole de messages.
const (
	CodeInvalidMessage  = "invalid_message"
	CodeUnknownAction   = "unknown_action"
	CodeEmptyContent    = "empty_content"
	CodeThumbnailTrack  = "thumbnail_track"
	CodeNoSubtitle      = "no_subtitle"
	CodeNotFound        = "not_found"
	CodeInvalidSettings = "invalid_settings"
)

// CodedError permet au dispatcher de renvoyer un code d'erreur stable, que la
// couche HTTP traduit en statut.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// ErrorCode renvoie le code d'une CodedError de la chaîne, ou "".
func ErrorCode(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
