package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/metrics"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// Oracle errors
var (
	ErrOracleMalformed   = errors.New("oracle returned malformed decision")
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// DecisionOracle proposes the next conversational step
type DecisionOracle interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}

// UploadedDocument summarizes an upload already stored for the contact
type UploadedDocument struct {
	DocumentType string
	PersonName   string
	Role         string
}

// HistoryLine is one transcript entry given to the oracle as context
type HistoryLine struct {
	Sender string
	Body   string
}

// DecisionRequest is everything the oracle sees for one inbound event
type DecisionRequest struct {
	State             models.ConversationState
	UserMessage       string
	ParticipantName   string
	RSVPStatus        *string
	GuestCount        *int
	Notes             *string
	ProofUploaded     bool
	Scratch           *models.DocumentScratch
	UploadedDocuments []UploadedDocument
	ExtractedFields   models.ExtractedFields
	MediaReceived     bool
	History           []HistoryLine
	Event             *EventContext
}

// EventContext is what the guest's group knows about the event
type EventContext struct {
	Name        string
	Description string
	Info        string
}

// IsEmpty reports whether there is nothing to tell the guest
func (e *EventContext) IsEmpty() bool {
	return e == nil || (e.Name == "" && e.Description == "" && e.Info == "")
}

// Decision is the oracle's proposed reply, next state and side effects
type Decision struct {
	Reply     string          `json:"reply"`
	NextState string          `json:"nextState"`
	Actions   DecisionActions `json:"actions"`
}

type DecisionActions struct {
	UpdateDB    bool              `json:"updateDB"`
	Fields      DecisionFields    `json:"fields"`
	SaveUpload  *SaveUploadAction `json:"saveUpload,omitempty"`
	CacheUpdate *CacheUpdate      `json:"cacheUpdate,omitempty"`
}

// DecisionFields are RSVP field writes; nil means leave unchanged
type DecisionFields struct {
	RSVPStatus     *string `json:"rsvp_status,omitempty"`
	NumberOfGuests *int    `json:"number_of_guests,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	ProofUploaded  *bool   `json:"proof_uploaded,omitempty"`
}

// IsEmpty reports whether no field write was proposed
func (f DecisionFields) IsEmpty() bool {
	return f.RSVPStatus == nil && f.NumberOfGuests == nil && f.Notes == nil && f.ProofUploaded == nil
}

// UnmarshalJSON tolerates loosely typed values such as "2 people" for the guest count
func (f *DecisionFields) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = DecisionFields{}

	if s, ok := coerceString(raw["rsvp_status"]); ok {
		f.RSVPStatus = &s
	}
	if s, ok := coerceString(raw["notes"]); ok {
		f.Notes = &s
	}
	if n, ok := coerceInt(raw["number_of_guests"]); ok {
		f.NumberOfGuests = &n
	}
	switch v := raw["proof_uploaded"].(type) {
	case bool:
		f.ProofUploaded = &v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			f.ProofUploaded = &b
		}
	}
	return nil
}

// SaveUploadAction asks for the received media to be stored as an Upload
type SaveUploadAction struct {
	DocumentURL  string `json:"document_url,omitempty"`
	DocumentType string `json:"document_type"`
	Role         string `json:"role"`
	PersonName   string `json:"participant_relatives_name"`
}

// CacheUpdate holds scratch field writes; empty values leave the scratch field unchanged
type CacheUpdate struct {
	CurrentDocName  string `json:"currentDocName,omitempty"`
	CurrentDocRole  string `json:"currentDocRole,omitempty"`
	CurrentDocType  string `json:"currentDocType,omitempty"`
	TransportType   string `json:"transportType,omitempty"`
	TravelDirection string `json:"travelDirection,omitempty"`
	ArrivalDate     string `json:"arrivalDate,omitempty"`
	ArrivalTime     string `json:"arrivalTime,omitempty"`
	ReturnDate      string `json:"returnDate,omitempty"`
	ReturnTime      string `json:"returnTime,omitempty"`
}

func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

var leadingInt = regexp.MustCompile(`^\s*(-?\d+)`)

func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		m := leadingInt.FindStringSubmatch(t)
		if m == nil {
			return 0, false
		}
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	return 0, false
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseDecision extracts a decision from raw model output, tolerating code
// fences and surrounding prose
func ParseDecision(raw string) (*Decision, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var d Decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		match := jsonObject.FindString(cleaned)
		if match == "" {
			return nil, fmt.Errorf("%w: no JSON object found", ErrOracleMalformed)
		}
		d = Decision{}
		if err := json.Unmarshal([]byte(match), &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOracleMalformed, err)
		}
	}
	return &d, nil
}

// LLMDecisionOracle asks an OpenAI-compatible chat completion endpoint for decisions
type LLMDecisionOracle struct {
	client       openai.Client
	config       *config.OracleConfig
	systemPrompt string
	log          zerolog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewLLMDecisionOracle creates an oracle backed by the configured model
func NewLLMDecisionOracle(cfg *config.OracleConfig, log zerolog.Logger) (*LLMDecisionOracle, error) {
	prompt := defaultSystemPrompt
	if cfg.PromptFile != "" {
		b, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read oracle prompt: %w", err)
		}
		prompt = string(b)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries are ours, with capped backoff
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &LLMDecisionOracle{
		client:       openai.NewClient(opts...),
		config:       cfg,
		systemPrompt: prompt,
		log:          log.With().Str("component", "oracle").Logger(),
		sleep:        sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Decide calls the model, retrying transient failures
func (o *LLMDecisionOracle) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	attempts := o.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	userPrompt := buildUserPrompt(req)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := o.complete(ctx, userPrompt, req.State)
		if err == nil {
			d, perr := ParseDecision(raw)
			if perr != nil {
				metrics.OracleCallsTotal.WithLabelValues("malformed").Inc()
				return nil, perr
			}
			metrics.OracleCallsTotal.WithLabelValues("ok").Inc()
			return d, nil
		}

		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil || attempt == attempts {
			break
		}

		wait := backoff(attempt, o.config.MaxBackoff)
		o.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("oracle call failed, retrying")
		if err := o.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	metrics.OracleCallsTotal.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, lastErr)
}

func (o *LLMDecisionOracle) complete(ctx context.Context, userPrompt string, state models.ConversationState) (string, error) {
	callCtx := ctx
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	system := o.systemPrompt
	if instr, ok := stateInstructions[state]; ok {
		system += "\n\nCurrent task: " + instr
	}

	resp, err := o.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(500),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrOracleMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

// backoff is min(2^attempt seconds, max)
func backoff(attempt int, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = 10 * time.Second
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, ErrOracleMalformed) {
		return false
	}
	// transport failures and per-call timeouts
	return true
}

func buildUserPrompt(req DecisionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", req.State)
	fmt.Fprintf(&b, "User Message: %q\n", req.UserMessage)
	if req.ParticipantName != "" {
		fmt.Fprintf(&b, "Primary Participant: %s\n", req.ParticipantName)
	}
	if req.RSVPStatus != nil {
		fmt.Fprintf(&b, "RSVP: %s\n", *req.RSVPStatus)
	}
	if req.GuestCount != nil {
		fmt.Fprintf(&b, "Guests: %d\n", *req.GuestCount)
	}
	if req.Notes != nil && *req.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", *req.Notes)
	}
	fmt.Fprintf(&b, "Database Flag: proof_uploaded = %t\n", req.ProofUploaded)

	if !req.Event.IsEmpty() {
		b.WriteString("\nEVENT DETAILS:\n")
		writeIf(&b, "Event", req.Event.Name)
		writeIf(&b, "About", req.Event.Description)
		if req.Event.Info != "" {
			b.WriteString(req.Event.Info)
			if !strings.HasSuffix(req.Event.Info, "\n") {
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nCURRENT DOCUMENT COLLECTION CONTEXT:\n")
	s := req.Scratch
	if s.IsEmpty() {
		b.WriteString("No active document collection\n")
	} else {
		writeIf(&b, "Collecting documents for", s.Name)
		writeIf(&b, "Their relation", s.Role)
		writeIf(&b, "Document type pending", s.Type)
		writeIf(&b, "Transport type", s.TransportType)
		writeIf(&b, "Travel direction", s.TravelDirection)
		writeIf(&b, "Arrival date collected", s.ArrivalDate)
		writeIf(&b, "Arrival time collected", s.ArrivalTime)
		writeIf(&b, "Return date collected", s.ReturnDate)
		writeIf(&b, "Return time collected", s.ReturnTime)
	}

	b.WriteString("\nActually Uploaded Documents:\n")
	if len(req.UploadedDocuments) == 0 {
		b.WriteString("NONE - No documents have been uploaded yet\n")
	}
	for _, d := range req.UploadedDocuments {
		fmt.Fprintf(&b, "- %s for %s (%s)\n", d.DocumentType, d.PersonName, d.Role)
	}

	if len(req.ExtractedFields) > 0 {
		b.WriteString("\nExtracted From This Document:\n")
		for _, k := range []string{
			models.ExtractedPassengerName, models.ExtractedDate, models.ExtractedTime,
			models.ExtractedFromLocation, models.ExtractedToLocation,
			models.ExtractedTransportNumber, models.ExtractedPNR,
		} {
			writeIf(&b, k, req.ExtractedFields[k])
		}
	}

	if len(req.History) > 0 {
		b.WriteString("\nRecent Messages:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "%s: %s\n", h.Sender, h.Body)
		}
	}

	if req.MediaReceived {
		b.WriteString("\nMedia Received: YES (a document is being uploaded right now)\n")
	} else {
		b.WriteString("\nMedia Received: NO\n")
	}
	return b.String()
}

func writeIf(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

// MockDecisionOracle replays scripted decisions in order and records requests
type MockDecisionOracle struct {
	mu        sync.Mutex
	Decisions []*Decision
	Errors    []error
	Requests  []DecisionRequest
	// Fn, when set, replaces the scripted queue
	Fn func(req DecisionRequest) (*Decision, error)
}

// NewMockDecisionOracle creates a mock oracle returning the given decisions in order
func NewMockDecisionOracle(decisions ...*Decision) *MockDecisionOracle {
	return &MockDecisionOracle{Decisions: decisions}
}

func (m *MockDecisionOracle) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Fn != nil {
		return m.Fn(req)
	}

	idx := len(m.Requests) - 1
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}
	if idx >= len(m.Decisions) {
		return nil, fmt.Errorf("%w: no scripted decision for call %d", ErrOracleUnavailable, idx+1)
	}
	d := *m.Decisions[idx]
	return &d, nil
}

// Calls returns how many times the oracle was consulted
func (m *MockDecisionOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
