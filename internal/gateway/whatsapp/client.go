package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-automation/internal/config"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// APIError is an error reply from the Cloud API.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status %d code %d: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	http          *http.Client
	logger        *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.WhatsAppAPIURL, "/"),
		token:         cfg.WhatsAppToken,
		phoneNumberID: cfg.PhoneNumberID,
		http:          &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error"`
}

// SendText delivers a text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	phone, err := NormalizePhone(to)
	if err != nil {
		return "", err
	}
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: body},
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	respBody, status, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil && status < 400 {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}
	if status >= 400 {
		if resp.Error != nil {
			resp.Error.Status = status
			return "", resp.Error
		}
		return "", &APIError{Status: status, Message: strings.TrimSpace(string(respBody))}
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", errors.New("whatsapp response carried no message id")
	}

	c.logger.Debug("Message sent", zap.String("to", phone), zap.String("message_id", resp.Messages[0].ID))
	return resp.Messages[0].ID, nil
}

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// NormalizePhone strips formatting and a leading plus and checks that what
// remains is an E.164 digit string.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return digits, nil
}
