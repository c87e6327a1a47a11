package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtractedFields(t *testing.T) {
	fields, err := NormalizeExtractedFields([]byte(`{
		"date": "2025-12-18",
		"time": " 14:05 ",
		"from_location": "DEL",
		"toLocation": "UDR",
		"transport_number": "6E 2134",
		"passenger_name": "Asha Mehta",
		"pnr": "null",
		"seat": "",
		"fare": 4200,
		"gate": "B4"
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.ExtractedFields{
		models.ExtractedDate:            "2025-12-18",
		models.ExtractedTime:            "14:05",
		models.ExtractedFromLocation:    "DEL",
		models.ExtractedToLocation:      "UDR",
		models.ExtractedTransportNumber: "6E 2134",
		models.ExtractedPassengerName:   "Asha Mehta",
		"gate":                          "B4",
	}, fields)

	_, err = NormalizeExtractedFields([]byte(`["not","an","object"]`))
	assert.Error(t, err)
}

func newTestExtractor(t *testing.T, handler http.HandlerFunc) (*HTTPExtractionService, *int) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc := NewHTTPExtractionService(&config.ExtractionConfig{
		Endpoint:    server.URL + "/extract",
		APIKey:      "extract-key",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
	}).(*HTTPExtractionService)

	sleeps := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return svc, &sleeps
}

func TestHTTPExtractionService_Extract(t *testing.T) {
	ctx := context.Background()
	doc := ExtractionInput{
		Data:          []byte("%PDF-1.4 ticket"),
		MimeType:      "application/pdf",
		FileName:      "ticket.pdf",
		TransportType: "flight",
		Direction:     "arrival",
	}

	t.Run("posts the document as multipart", func(t *testing.T) {
		svc, _ := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/extract", r.URL.Path)
			assert.Equal(t, "Bearer extract-key", r.Header.Get("Authorization"))

			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			assert.Equal(t, "flight", r.FormValue("transport_type"))
			assert.Equal(t, "arrival", r.FormValue("direction"))

			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			assert.Equal(t, "ticket.pdf", header.Filename)
			data, _ := io.ReadAll(file)
			assert.Equal(t, doc.Data, data)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transport_number":"AI 471","date":"2025-12-18"}`))
		})

		fields, err := svc.Extract(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "AI 471", fields[models.ExtractedTransportNumber])
		assert.Equal(t, "2025-12-18", fields[models.ExtractedDate])
	})

	t.Run("retries unavailable extractor", func(t *testing.T) {
		var calls atomic.Int32
		svc, sleeps := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"pnr":"X7K2QZ"}`))
		})

		fields, err := svc.Extract(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "X7K2QZ", fields[models.ExtractedPNR])
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 2, *sleeps)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		svc, _ := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := svc.Extract(ctx, doc)
		assert.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are final", func(t *testing.T) {
		var calls atomic.Int32
		svc, sleeps := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("unsupported document"))
		})

		_, err := svc.Extract(ctx, doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported document")
		assert.Equal(t, int32(1), calls.Load())
		assert.Zero(t, *sleeps)
	})
}

func TestMockExtractionService(t *testing.T) {
	m := NewMockExtractionService(models.ExtractedFields{models.ExtractedPNR: "ABC123"})

	fields, err := m.Extract(context.Background(), ExtractionInput{FileName: "a.pdf"})
	require.NoError(t, err)
	fields[models.ExtractedPNR] = "changed"
	assert.Equal(t, "ABC123", m.Fields[models.ExtractedPNR])

	m.Err = errors.New("ocr down")
	_, err = m.Extract(context.Background(), ExtractionInput{FileName: "b.pdf"})
	assert.EqualError(t, err, "ocr down")
	assert.Len(t, m.Inputs, 2)
}
