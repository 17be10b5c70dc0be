package slack

import (
	"strings"

	slackapi "github.com/slack-go/slack"
)

// Action IDs of the buttons on a finished creation.
const (
	rerollID    = "eden:reroll"
	refreshID   = "eden:refresh"
	lerpID      = "eden:lerp"
	burnID      = "eden:burn"
	praiseID    = "eden:praise"
	controlsID  = "eden:controls"
	lerpModalID = "eden:lerp-modal"
	lerpBlockID = "eden:lerp-block"
	lerpTextID  = "eden:lerp-text"
)

func controls() *slackapi.ActionBlock {
	button := func(id, label string) *slackapi.ButtonBlockElement {
		return slackapi.NewButtonBlockElement(id, id, slackapi.NewTextBlockObject(slackapi.PlainTextType, label, true, false))
	}
	return slackapi.NewActionBlock(controlsID,
		button(rerollID, "🔄").WithStyle(slackapi.StylePrimary),
		button(refreshID, "Refresh"),
		button(lerpID, "Lerp It"),
		button(burnID, "🔥").WithStyle(slackapi.StyleDanger),
		button(praiseID, "🙌"),
	)
}

// lerpModal asks for the prompt to lerp the creation in channelID at ts to.
func lerpModal(channelID, ts string) slackapi.ModalViewRequest {
	plain := func(s string) *slackapi.TextBlockObject {
		return slackapi.NewTextBlockObject(slackapi.PlainTextType, s, false, false)
	}
	input := slackapi.NewPlainTextInputBlockElement(plain("a prompt to lerp to"), lerpTextID)
	input.MaxLength = 200
	return slackapi.ModalViewRequest{
		Type:            slackapi.VTModal,
		CallbackID:      lerpModalID,
		Title:           plain("Lerp It"),
		Submit:          plain("Lerp"),
		Close:           plain("Cancel"),
		PrivateMetadata: channelID + "|" + ts,
		Blocks: slackapi.Blocks{BlockSet: []slackapi.Block{
			slackapi.NewInputBlock(lerpBlockID, plain("Short Input"), nil, input),
		}},
	}
}

// parseLerpModal extracts the target creation and prompt from a submitted
// lerp modal.
func parseLerpModal(view slackapi.View) (channelID, ts, text string, ok bool) {
	if view.CallbackID != lerpModalID {
		return "", "", "", false
	}
	channelID, ts, found := strings.Cut(view.PrivateMetadata, "|")
	if !found || channelID == "" || ts == "" {
		return "", "", "", false
	}
	if view.State != nil {
		text = strings.TrimSpace(view.State.Values[lerpBlockID][lerpTextID].Value)
	}
	return channelID, ts, text, true
}
