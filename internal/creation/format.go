// Package creation drives one generation request from submission to a
// finished chat message: it submits to the gateway, follows the poll
// sequence, renders progress into a single working message and promotes it
// to a final message carrying the artifact and follow-up controls.
package creation

import (
	"fmt"
	"strings"

	"github.com/zulandar/edenbot/internal/eden"
)

// User-facing texts shared by every platform.
const (
	NotAvailableText = "This command is not available in this channel."
	ApologyText      = "Sorry, something went wrong while posting this creation."
	ExpiredText      = "These controls have expired. Start a new creation instead."
)

// Describe maps a poll status to the status line shown under the header.
func Describe(st eden.Status) (string, error) {
	switch st.State {
	case eden.StateFailed:
		return "Server error: task failed", nil
	case eden.StatePending:
		return "Warming up, please wait.", nil
	case eden.StateQueued:
		return fmt.Sprintf("Creation is #%d in queue", st.QueuePosition), nil
	case eden.StateStarting:
		return "Creation is starting", nil
	case eden.StateRunning:
		return fmt.Sprintf("Creation is **%d%%** complete", st.Progress), nil
	case eden.StateComplete:
		return "Creation is **100%** complete", nil
	}
	return "", &eden.ProtocolError{Reason: fmt.Sprintf("unrecognized status %q", st.State)}
}

// FilteredText is the refusal shown when the content filter rejects a prompt.
func FilteredText(userID string) string {
	return fmt.Sprintf("Content filter triggered, %s. Please don't make me draw that. "+
		"If you think it was a mistake, modify your prompt slightly and try again.", mention(userID))
}

// ErrorText is the status line for a loop that ended with err.
func ErrorText(err error) string {
	return "Error: " + err.Error()
}

// composeContent joins the fixed header and the mutable status line.
func composeContent(header, status string) string {
	if status == "" {
		return header
	}
	return header + "\n" + status
}

// mention renders a user mention. Platforms that use a different syntax
// pass an already formatted mention to the header builders.
func mention(userID string) string {
	if userID == "" {
		return "someone"
	}
	if strings.HasPrefix(userID, "<") {
		return userID
	}
	return "<@!" + userID + ">"
}

// DreamHeader is the header of a text-to-image creation.
func DreamHeader(prompt, userID string) string {
	return fmt.Sprintf("**%s** - %s", prompt, mention(userID))
}

// LerpHeader is the header of an interpolation between two prompts.
func LerpHeader(from, to, userID string) string {
	return fmt.Sprintf("**%s** to **%s** - %s", from, to, mention(userID))
}

// RemixHeader is the header of a remix seeded from a posted image.
func RemixHeader(userID, jumpURL string) string {
	if jumpURL == "" {
		return fmt.Sprintf("**Remix** by %s", mention(userID))
	}
	return fmt.Sprintf("**Remix** by %s at %s", mention(userID), jumpURL)
}
