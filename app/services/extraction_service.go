package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
)

// ExtractionService turns a travel document into a flat field map
type ExtractionService interface {
	Extract(ctx context.Context, doc ExtractionInput) (models.ExtractedFields, error)
}

// ExtractionInput is a stored document plus the hints the extractor needs
type ExtractionInput struct {
	Data          []byte
	MimeType      string
	FileName      string
	TransportType string
	Direction     string
}

// Field names as returned by the extractor, mapped to ours
var extractionKeyMap = map[string]string{
	"date":             models.ExtractedDate,
	"time":             models.ExtractedTime,
	"from_location":    models.ExtractedFromLocation,
	"fromLocation":     models.ExtractedFromLocation,
	"to_location":      models.ExtractedToLocation,
	"toLocation":       models.ExtractedToLocation,
	"transport_number": models.ExtractedTransportNumber,
	"transportNumber":  models.ExtractedTransportNumber,
	"pnr":              models.ExtractedPNR,
	"passenger_name":   models.ExtractedPassengerName,
	"passengerName":    models.ExtractedPassengerName,
}

// HTTPExtractionService posts documents to an OCR and structured extraction endpoint
type HTTPExtractionService struct {
	config *config.ExtractionConfig
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHTTPExtractionService creates a new extraction client
func NewHTTPExtractionService(cfg *config.ExtractionConfig) ExtractionService {
	return &HTTPExtractionService{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepCtx,
	}
}

// Extract sends the document and normalizes the returned field names.
// Transient failures are retried with capped exponential backoff.
func (s *HTTPExtractionService) Extract(ctx context.Context, doc ExtractionInput) (models.ExtractedFields, error) {
	attempts := s.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		fields, retry, err := s.extractOnce(ctx, doc)
		if err == nil {
			return fields, nil
		}
		lastErr = err
		if !retry || attempt == attempts || ctx.Err() != nil {
			break
		}
		if err := s.sleep(ctx, backoff(attempt, 10*time.Second)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("extraction failed: %w", lastErr)
}

func (s *HTTPExtractionService) extractOnce(ctx context.Context, doc ExtractionInput) (models.ExtractedFields, bool, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("transport_type", doc.TransportType)
	_ = w.WriteField("direction", doc.Direction)
	part, err := w.CreateFormFile("file", doc.FileName)
	if err != nil {
		return nil, false, err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, &body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("extractor returned %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("extractor returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	fields, err := NormalizeExtractedFields(respBody)
	return fields, false, err
}

// NormalizeExtractedFields decodes the extractor's JSON object, drops nulls and
// renames known keys. Unknown string keys are kept as-is.
func NormalizeExtractedFields(raw []byte) (models.ExtractedFields, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode extraction result: %w", err)
	}

	out := make(models.ExtractedFields, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		if mapped, ok := extractionKeyMap[k]; ok {
			k = mapped
		}
		out[k] = s
	}
	return out, nil
}

// MockExtractionService returns canned fields, or an error, and records inputs
type MockExtractionService struct {
	mu     sync.Mutex
	Fields models.ExtractedFields
	Err    error
	Inputs []ExtractionInput
}

// NewMockExtractionService creates a mock extractor returning fields
func NewMockExtractionService(fields models.ExtractedFields) *MockExtractionService {
	return &MockExtractionService{Fields: fields}
}

func (m *MockExtractionService) Extract(ctx context.Context, doc ExtractionInput) (models.ExtractedFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inputs = append(m.Inputs, doc)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(models.ExtractedFields, len(m.Fields))
	for k, v := range m.Fields {
		out[k] = v
	}
	return out, nil
}
