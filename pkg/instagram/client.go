// Package instagram talks to the Instagram Graph API on behalf of a connected account.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zosmed/engine/pkg/models"
)

// Client performs the outbound calls the executor needs. Implementations must
// respect ctx cancellation so a stuck send eventually fails.
type Client interface {
	SendCommentReply(ctx context.Context, credential, commentID, text string) (Result, error)
	SendDirectMessage(ctx context.Context, credential, recipientID, text string, buttons []models.Button) (Result, error)
	GetCommentDetails(ctx context.Context, credential, commentID string) (Comment, error)
}

// Result identifies the object created by a send.
type Result struct {
	ID string `json:"id"`
}

// Comment is the subset of comment fields the engine reads.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Username  string    `json:"username"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrMissingCredential = errors.New("instagram access token is required")

// APIError is an error reported by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("instagram api returned status %d", e.StatusCode)
	}

	if e.Type == "" {
		return fmt.Sprintf("instagram api returned status %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("instagram api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// Rate limit error codes documented for the Graph API.
var rateLimitCodes = map[int]struct{}{4: {}, 17: {}, 32: {}, 613: {}}

// Temporary reports whether the request may succeed if sent again later.
func (e *APIError) Temporary() bool {
	if _, ok := rateLimitCodes[e.Code]; ok {
		return true
	}

	return e.StatusCode >= http.StatusInternalServerError
}

// IsRateLimited reports whether err is a Graph API throttling error.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	_, ok := rateLimitCodes[apiErr.Code]

	return ok
}
