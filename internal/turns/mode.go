package turns

import "fmt"

// Mode selects which policy governs a user's turns.
type Mode string

const (
	// ModeBatched batches messages and responds once after the window closes.
	ModeBatched Mode = "single"
	// ModeEager starts generation immediately and restarts it whenever a new
	// message arrives before the window closes.
	ModeEager Mode = "parallel"
	// ModeEcho batches messages and echoes the stitched text back, without
	// calling the completion provider. Exists to verify batching in isolation.
	ModeEcho Mode = "stitch"
)

// ParseMode parses a mode name. Returns an error for unknown names.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single", "batched":
		return ModeBatched, nil
	case "parallel", "eager":
		return ModeEager, nil
	case "stitch", "echo":
		return ModeEcho, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Description returns the user-facing one-liner for a mode, used in the
// mode-switch confirmation.
func (m Mode) Description() string {
	switch m {
	case ModeBatched:
		return "I'll batch your messages and respond once after the window closes! 📦"
	case ModeEager:
		return "I'll start working immediately but restart if you send more messages! ⚡"
	case ModeEcho:
		return "I'll just echo back your combined messages! 🔁"
	}
	return ""
}

// ConfirmationText returns the reply sent after a mode switch.
func (m Mode) ConfirmationText() string {
	return fmt.Sprintf("Switched to %s mode! %s", string(m), m.Description())
}

// WelcomeText is the reply to the init command. It names all three modes.
const WelcomeText = "👋 Hey there! I'm Buddy, your friendly chat companion!\n\n" +
	"I have three different modes to chat with you:\n\n" +
	"🔸 /single — I'll wait for all your messages in a short window, " +
	"then give you one thoughtful response\n\n" +
	"🔸 /parallel — I start thinking as soon as you message me, but if you " +
	"send more messages, I'll restart with everything combined\n\n" +
	"🔸 /stitch — I just repeat back what you said (great for testing!)\n\n" +
	"Currently in single mode. What's on your mind? 😊"

// FallbackReply is the only failure text a user ever sees: sent when the
// completion provider errors out mid-turn.
const FallbackReply = "Oops! I had a hiccup there. Could you try again? 😅"
