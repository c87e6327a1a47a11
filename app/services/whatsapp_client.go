package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
)

// SendErrorCode is used when the provider gave no error code of its own
const SendErrorCode = "SEND_ERROR"

// WhatsAppClient sends messages and fetches media through the WhatsApp Cloud API
type WhatsAppClient interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendTemplate(ctx context.Context, to string, tpl TemplateMessage) (string, error)
	FetchMediaURL(ctx context.Context, mediaID string) (string, error)
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// TemplateMessage is an approved template with its positional body parameters
type TemplateMessage struct {
	Name     string
	Language string
	Params   []string
}

// TransportError is a failed provider call
type TransportError struct {
	Code       string
	Message    string
	HTTPStatus int
	// Err is the underlying network or context error, if any
	Err error
}

func (e *TransportError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("whatsapp %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("whatsapp %s: %s", e.Code, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the provider error code carried by err, or SendErrorCode
func ErrorCode(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}
	return SendErrorCode
}

// --- Wire structures ---

type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textObj     `json:"text,omitempty"`
	Template         *templateObj `json:"template,omitempty"`
}

type textObj struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type templateObj struct {
	Name       string         `json:"name"`
	Language   languageObj    `json:"language"`
	Components []componentObj `json:"components,omitempty"`
}

type languageObj struct {
	Code string `json:"code"`
}

type componentObj struct {
	Type       string         `json:"type"`
	Parameters []parameterObj `json:"parameters"`
}

type parameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// CloudAPIClient implements WhatsAppClient over the Graph API
type CloudAPIClient struct {
	config *config.WhatsAppConfig
	client *http.Client
}

// NewCloudAPIClient creates a new Cloud API client
func NewCloudAPIClient(cfg *config.WhatsAppConfig) WhatsAppClient {
	return &CloudAPIClient{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *CloudAPIClient) graphURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.config.APIBaseURL, "/"), c.config.APIVersion, strings.TrimLeft(path, "/"))
}

// SendText sends a free-form text message and returns the provider message id
func (c *CloudAPIClient) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               utils.DigitsOnly(to),
		Type:             "text",
		Text:             &textObj{Body: body},
	})
}

// SendTemplate sends an approved template message and returns the provider message id
func (c *CloudAPIClient) SendTemplate(ctx context.Context, to string, tpl TemplateMessage) (string, error) {
	lang := tpl.Language
	if lang == "" {
		lang = "en"
	}
	obj := &templateObj{
		Name:     tpl.Name,
		Language: languageObj{Code: lang},
	}
	if len(tpl.Params) > 0 {
		params := make([]parameterObj, 0, len(tpl.Params))
		for _, p := range tpl.Params {
			params = append(params, parameterObj{Type: "text", Text: p})
		}
		obj.Components = []componentObj{{Type: "body", Parameters: params}}
	}

	return c.send(ctx, outboundMessage{
		MessagingProduct: "whatsapp",
		To:               utils.DigitsOnly(to),
		Type:             "template",
		Template:         obj,
	})
}

func (c *CloudAPIClient) send(ctx context.Context, msg outboundMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.graphURL(c.config.PhoneNumberID+"/messages"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Code: SendErrorCode, Message: "malformed send response: " + err.Error()}
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", &TransportError{Code: SendErrorCode, Message: "send response carried no message id"}
	}
	return resp.Messages[0].ID, nil
}

// FetchMediaURL resolves a media id to a short-lived download URL
func (c *CloudAPIClient) FetchMediaURL(ctx context.Context, mediaID string) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.graphURL(mediaID), nil)
	if err != nil {
		return "", err
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return "", fmt.Errorf("failed to decode media response: %w", err)
	}
	if obj.URL == "" {
		return "", fmt.Errorf("media %s has no url", mediaID)
	}
	return obj.URL, nil
}

// DownloadMedia downloads media bytes; the URL requires the same bearer token
func (c *CloudAPIClient) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("media download failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *CloudAPIClient) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Code: SendErrorCode, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Code: SendErrorCode, Message: err.Error(), HTTPStatus: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 400 {
		te := &TransportError{Code: SendErrorCode, Message: resp.Status, HTTPStatus: resp.StatusCode}
		var ge graphErrorResponse
		if json.Unmarshal(respBody, &ge) == nil && ge.Error.Message != "" {
			te.Message = ge.Error.Message
			if ge.Error.Code != 0 {
				te.Code = strconv.Itoa(ge.Error.Code)
			}
		}
		return nil, te
	}

	return respBody, nil
}

// MockWhatsAppClient implements WhatsAppClient for testing and mock mode
type MockWhatsAppClient struct {
	mu           sync.Mutex
	SentMessages []MockWhatsAppMessage

	// FailFor maps a recipient to the error every send to it returns
	FailFor map[string]error
	// Delay is applied to every send and honours context cancellation
	Delay time.Duration
	// DelayFor overrides Delay for single recipients
	DelayFor map[string]time.Duration
	// Media maps a media id to its bytes
	Media map[string][]byte
}

// MockWhatsAppMessage represents a message accepted by the mock
type MockWhatsAppMessage struct {
	To                string
	Type              string
	Body              string
	Template          *TemplateMessage
	ProviderMessageID string
	SentAt            time.Time
}

// NewMockWhatsAppClient creates a new mock WhatsApp client
func NewMockWhatsAppClient() *MockWhatsAppClient {
	return &MockWhatsAppClient{
		SentMessages: make([]MockWhatsAppMessage, 0),
		FailFor:      make(map[string]error),
		DelayFor:     make(map[string]time.Duration),
		Media:        make(map[string][]byte),
	}
}

func (m *MockWhatsAppClient) SendText(ctx context.Context, to, body string) (string, error) {
	return m.record(ctx, MockWhatsAppMessage{To: to, Type: "text", Body: body})
}

func (m *MockWhatsAppClient) SendTemplate(ctx context.Context, to string, tpl TemplateMessage) (string, error) {
	t := tpl
	return m.record(ctx, MockWhatsAppMessage{To: to, Type: "template", Template: &t})
}

func (m *MockWhatsAppClient) record(ctx context.Context, msg MockWhatsAppMessage) (string, error) {
	m.mu.Lock()
	delay := m.Delay
	if d, ok := m.DelayFor[msg.To]; ok {
		delay = d
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &TransportError{Code: SendErrorCode, Message: ctx.Err().Error(), Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailFor[msg.To]; ok {
		return "", err
	}

	msg.ProviderMessageID = "wamid.mock-" + uuid.NewString()
	msg.SentAt = utils.UTCNow()
	m.SentMessages = append(m.SentMessages, msg)
	return msg.ProviderMessageID, nil
}

func (m *MockWhatsAppClient) FetchMediaURL(ctx context.Context, mediaID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Media[mediaID]; !ok {
		return "", fmt.Errorf("media %s not found", mediaID)
	}
	return "mock://media/" + mediaID, nil
}

func (m *MockWhatsAppClient) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strings.TrimPrefix(url, "mock://media/")
	data, ok := m.Media[id]
	if !ok {
		return nil, "", fmt.Errorf("media %s not found", id)
	}
	return data, http.DetectContentType(data), nil
}

// GetSentMessages returns a copy of all messages accepted by the mock
func (m *MockWhatsAppClient) GetSentMessages() []MockWhatsAppMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockWhatsAppMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}

// ClearSentMessages clears the sent messages list
func (m *MockWhatsAppClient) ClearSentMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = make([]MockWhatsAppMessage, 0)
}
