package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Send-path validation errors. Each one is reported back to the
	// sending connection and is never fatal to it.
	ErrUnidentifiedSender = errors.New("connection has not announced an identity")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrRecipientMissing   = errors.New("recipient is required")
	ErrFileNameRequired   = errors.New("file messages require a file name")

	ErrUserExists = errors.New("user already exists")
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the fixed message types.
// The enumeration is closed: anything else is rejected at the router.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Message is the durable record of one sent message. It is created once
// by the router at send time and never mutated afterwards. For image and
// file messages Content holds a file store key rather than the payload.
type Message struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	FileName  string      `json:"fileName,omitempty"`
	CreatedAt int64       `json:"createdAt"` // Unix timestamp (milliseconds), server-assigned
}

// User represents a user as exposed by the directory endpoint.
type User struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type EventType string

const (
	EventAnnounce EventType = "announce"
	EventMessage  EventType = "message"
	EventAck      EventType = "ack"
	EventError    EventType = "error"
)

// ClientEvent is a frame sent from the client to the server.
type ClientEvent struct {
	Type EventType `json:"type"`

	// announce
	Identity string `json:"identity,omitempty"`

	// message
	To          string      `json:"to,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`
	Content     string      `json:"content,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
}

// ServerEvent is a frame sent from the server to the client: a delivered
// message, an ack for a persisted send, or an error report.
type ServerEvent struct {
	Type EventType `json:"type"`

	// message
	From        string      `json:"from,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`
	Content     string      `json:"content,omitempty"`
	FileName    string      `json:"fileName,omitempty"`

	// message and ack
	CreatedAt int64 `json:"createdAt,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeliveryEvent builds the server frame for a live-delivered message.
func DeliveryEvent(m Message) ServerEvent {
	return ServerEvent{
		Type:        EventMessage,
		From:        m.From,
		MessageType: m.Type,
		Content:     m.Content,
		FileName:    m.FileName,
		CreatedAt:   m.CreatedAt,
	}
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
