package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zosmed/engine/pkg/models"
)

const (
	DefaultBaseURL = "https://graph.instagram.com/v21.0"

	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4096
)

// GraphClient is a Client backed by the Instagram Graph API.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type GraphOption func(*GraphClient)

func WithHTTPClient(httpClient *http.Client) GraphOption {
	return func(c *GraphClient) {
		c.httpClient = httpClient
	}
}

func NewGraphClient(baseURL string, logger *slog.Logger, opts ...GraphOption) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "instagram_client"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *GraphClient) SendCommentReply(ctx context.Context, credential, commentID, text string) (Result, error) {
	var result Result

	err := c.do(ctx, credential, http.MethodPost, "/"+url.PathEscape(commentID)+"/replies", map[string]string{
		"message": text,
	}, &result)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reply to comment %s: %w", commentID, err)
	}

	c.logger.DebugContext(ctx, "Comment reply sent", "comment_id", commentID, "reply_id", result.ID)

	return result, nil
}

type messageRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message messagePayload `json:"message"`
}

type messagePayload struct {
	Text       string             `json:"text,omitempty"`
	Attachment *messageAttachment `json:"attachment,omitempty"`
}

type messageAttachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string           `json:"template_type"`
	Text         string           `json:"text"`
	Buttons      []templateButton `json:"buttons"`
}

type templateButton struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type messageResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (c *GraphClient) SendDirectMessage(
	ctx context.Context,
	credential, recipientID, text string,
	buttons []models.Button,
) (Result, error) {
	request := messageRequest{}
	request.Recipient.ID = recipientID

	if len(buttons) == 0 {
		request.Message.Text = text
	} else {
		payload := templatePayload{TemplateType: "button", Text: text}
		for _, button := range buttons {
			payload.Buttons = append(payload.Buttons, templateButton{Type: "web_url", URL: button.URL, Title: button.Title})
		}

		request.Message.Attachment = &messageAttachment{Type: "template", Payload: payload}
	}

	var response messageResponse
	if err := c.do(ctx, credential, http.MethodPost, "/me/messages", request, &response); err != nil {
		return Result{}, fmt.Errorf("failed to message user %s: %w", recipientID, err)
	}

	c.logger.DebugContext(ctx, "Direct message sent", "recipient_id", recipientID, "message_id", response.MessageID)

	return Result{ID: response.MessageID}, nil
}

type commentResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	From      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

func (c *GraphClient) GetCommentDetails(ctx context.Context, credential, commentID string) (Comment, error) {
	var response commentResponse

	path := "/" + url.PathEscape(commentID) + "?fields=" + url.QueryEscape("id,text,username,timestamp,from,media")
	if err := c.do(ctx, credential, http.MethodGet, path, nil, &response); err != nil {
		return Comment{}, fmt.Errorf("failed to fetch comment %s: %w", commentID, err)
	}

	comment := Comment{
		ID:       response.ID,
		Text:     response.Text,
		Username: response.Username,
		UserID:   response.From.ID,
		PostID:   response.Media.ID,
	}

	if comment.Username == "" {
		comment.Username = response.From.Username
	}

	if response.Timestamp != "" {
		// The Graph API uses an ISO 8601 offset without a colon.
		if ts, err := time.Parse("2006-01-02T15:04:05-0700", response.Timestamp); err == nil {
			comment.Timestamp = ts
		}
	}

	return comment, nil
}

func (c *GraphClient) do(ctx context.Context, credential, method, path string, body, out any) error {
	if credential == "" {
		return ErrMissingCredential
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

	var envelope struct {
		Error *APIError `json:"error"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == nil {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	envelope.Error.StatusCode = resp.StatusCode

	return envelope.Error
}
