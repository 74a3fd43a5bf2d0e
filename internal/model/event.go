package model

// Chat identifies the conversation an inbound event came from and where replies go.
type Chat struct {
	ID       int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// InboundEvent is one of StartCommand, TextMessage or VoiceMessage.
type InboundEvent interface {
	Origin() Chat
	Kind() string
	isInboundEvent()
}

// StartCommand is the bot's /start command.
type StartCommand struct {
	Chat Chat
}

// TextMessage carries a written language sample.
type TextMessage struct {
	Chat Chat
	Body string
}

// VoiceMessage carries an opaque reference to recorded speech, resolvable by the transport.
type VoiceMessage struct {
	Chat     Chat
	MediaRef string
}

func (e StartCommand) Origin() Chat { return e.Chat }
func (e TextMessage) Origin() Chat  { return e.Chat }
func (e VoiceMessage) Origin() Chat { return e.Chat }

func (StartCommand) Kind() string { return "start" }
func (TextMessage) Kind() string  { return "text" }
func (VoiceMessage) Kind() string { return "voice" }

func (StartCommand) isInboundEvent() {}
func (TextMessage) isInboundEvent()  {}
func (VoiceMessage) isInboundEvent() {}
