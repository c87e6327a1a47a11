package dto

// WebhookPayload is the WhatsApp Cloud API notification envelope
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound user message
type WebhookMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *WebhookText        `json:"text,omitempty"`
	Button      *WebhookButton      `json:"button,omitempty"`
	Interactive *WebhookInteractive `json:"interactive,omitempty"`
	Image       *WebhookMedia       `json:"image,omitempty"`
	Document    *WebhookMedia       `json:"document,omitempty"`
	Video       *WebhookMedia       `json:"video,omitempty"`
}

type WebhookText struct {
	Body string `json:"body"`
}

type WebhookButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type WebhookInteractive struct {
	Type        string             `json:"type"`
	ButtonReply *WebhookReplyTitle `json:"button_reply,omitempty"`
	ListReply   *WebhookReplyTitle `json:"list_reply,omitempty"`
}

type WebhookReplyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookStatus is a delivery-status callback for an outbound message
type WebhookStatus struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	Timestamp   string               `json:"timestamp"`
	RecipientID string               `json:"recipient_id"`
	Errors      []WebhookStatusError `json:"errors,omitempty"`
}

type WebhookStatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// WebhookResult summarizes what a notification produced
type WebhookResult struct {
	Messages int `json:"messages"`
	Statuses int `json:"statuses"`
	Dropped  int `json:"dropped"`
	Failed   int `json:"failed"`
}
