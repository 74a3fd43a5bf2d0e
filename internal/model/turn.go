package model

// Role tags a conversation turn sent to the assessment service.
type Role int

const (
	RoleSystem Role = iota
	RoleExampleUser
	RoleExampleAssistant
	RoleUser
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleExampleUser:
		return "example_user"
	case RoleExampleAssistant:
		return "example_assistant"
	case RoleUser:
		return "user"
	default:
		return "unknown"
	}
}

// Turn is one role-tagged entry of the assessment conversation.
type Turn struct {
	Role    Role
	Content string
}

// Transcript is the canonical text produced from a voice message.
type Transcript struct {
	Text       string
	Identifier string // filesystem-safe name derived from the first words
	AudioPath  string // archived transcoded audio, unique per message
	RemoteName string // name the audio is archived under remotely
}
