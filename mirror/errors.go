package mirror

import (
	"discord-mirror/mapping"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrPermissionDenied: the invoker is not an administrator of the source guild.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound: the source or destination guild cannot be resolved.
	ErrNotFound = errors.New("workspace not found")
	// ErrRemoteRejected: a single create/send/edit/delete call failed.
	ErrRemoteRejected = errors.New("remote rejected request")
	// ErrAttachmentUnavailable: one attachment could not be fetched.
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
	// ErrResyncInProgress: a full resync is already running.
	ErrResyncInProgress = errors.New("full resync already in progress")
)

// ItemError describes one failed item of a run. It is produced and logged at
// a single boundary, Engine.settle.
type ItemError struct {
	Kind     mapping.Kind
	SourceID string
	Op       string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.SourceID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func rejected(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteRejected, op, err)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

func isUnknownWebhook(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownWebhook
	}
	return false
}
