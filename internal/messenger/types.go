package messenger

import "encoding/json"

// ObjectPage is the envelope object value for Page subscriptions.
const ObjectPage = "page"

// Envelope is the top-level webhook delivery body.
//
// Meta batches updates: one delivery may carry entries for several pages, and
// each entry may carry several messaging events.
type Envelope struct {
	Object string  `json:"object" validate:"required"`
	Entry  []Entry `json:"entry" validate:"required,dive"`
}

// Entry groups the events addressed to one page.
type Entry struct {
	ID        string           `json:"id" validate:"required"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging" validate:"dive"`
}

// Participant identifies a sender or recipient by page-scoped id.
type Participant struct {
	ID string `json:"id" validate:"required"`
}

// MessagingEvent is a single event inside an entry. Exactly one of the
// pointer fields is normally set; events of other kinds are still delivered
// with their original JSON in Raw.
type MessagingEvent struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`

	Message  *Message  `json:"message,omitempty"`
	Postback *Postback `json:"postback,omitempty"`
	Delivery *Delivery `json:"delivery,omitempty"`
	Read     *Read     `json:"read,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Message is an inbound (or echoed) message.
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	Seq         int64        `json:"seq,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	AppID       int64        `json:"app_id,omitempty"`
	QuickReply  *QuickReply  `json:"quick_reply,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Postback is sent when a user taps a button or the Get Started action.
type Postback struct {
	MID     string `json:"mid,omitempty"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type Delivery struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
}

type Read struct {
	Watermark int64 `json:"watermark"`
}

// EventKind classifies a messaging event for logging and metrics.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindEcho     EventKind = "echo"
	KindPostback EventKind = "postback"
	KindDelivery EventKind = "delivery"
	KindRead     EventKind = "read"
	KindUnknown  EventKind = "unknown"
)

// UnmarshalJSON decodes the known fields and keeps the original bytes in Raw.
func (e *MessagingEvent) UnmarshalJSON(data []byte) error {
	type plain MessagingEvent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = MessagingEvent(p)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Kind reports which payload the event carries.
func (e MessagingEvent) Kind() EventKind {
	switch {
	case e.Message != nil && e.Message.IsEcho:
		return KindEcho
	case e.Message != nil:
		return KindMessage
	case e.Postback != nil:
		return KindPostback
	case e.Delivery != nil:
		return KindDelivery
	case e.Read != nil:
		return KindRead
	default:
		return KindUnknown
	}
}

// Text returns the message text, or "" for non-message events.
func (e MessagingEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}
