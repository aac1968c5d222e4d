package common

// Envelope is an outbound reply: metadata plus an optional packed payload.
// Body is empty for replies without attachments.
type Envelope struct {
	Meta        Meta   `json:"meta"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"-"`
}

// SentReply identifies a reply after it was handed to the transport.
type SentReply struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}
