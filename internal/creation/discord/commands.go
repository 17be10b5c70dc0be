package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/edenbot/internal/creation"
)

// Component custom IDs.
const (
	rerollID    = "eden:reroll"
	refreshID   = "eden:refresh"
	lerpID      = "eden:lerp"
	burnID      = "eden:burn"
	praiseID    = "eden:praise"
	lerpModalID = "eden:lerp-modal"
	lerpInputID = "eden:lerp-text"
)

// applicationCommands returns the slash commands registered per guild.
func applicationCommands() []*discordgo.ApplicationCommand {
	var aspects []*discordgo.ApplicationCommandOptionChoice
	for _, a := range creation.Aspects {
		aspects = append(aspects, &discordgo.ApplicationCommandOptionChoice{Name: string(a), Value: string(a)})
	}
	aspectOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "aspect_ratio",
		Description: "Shape of the creation",
		Choices:     aspects,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "dream",
			Description: "Dream up an image from a prompt",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "text_input", Description: "Prompt", Required: true},
				aspectOption,
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "large", Description: "Larger resolution, ~2.25x more pixels"},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "fast", Description: "Fast generation, possibly some loss of quality"},
			},
		},
		{
			Name:        "lerp",
			Description: "Morph one prompt into another",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "text_input1", Description: "First prompt", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "text_input2", Description: "Second prompt", Required: true},
				aspectOption,
			},
		},
	}
}

// controls returns the button row attached to a finished creation.
func controls(disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: rerollID, Style: discordgo.PrimaryButton, Emoji: &discordgo.ComponentEmoji{Name: "🔄"}, Disabled: disabled},
			discordgo.Button{CustomID: refreshID, Style: discordgo.SecondaryButton, Label: "Refresh", Disabled: disabled},
			discordgo.Button{CustomID: lerpID, Style: discordgo.SecondaryButton, Label: "Lerp It", Disabled: disabled},
			discordgo.Button{CustomID: burnID, Style: discordgo.DangerButton, Emoji: &discordgo.ComponentEmoji{Name: "🔥"}, Disabled: disabled},
			discordgo.Button{CustomID: praiseID, Style: discordgo.SuccessButton, Label: "🙌", Disabled: disabled},
		}},
	}
}

// lerpModal asks for the prompt to morph the creation on messageID into.
func lerpModal(messageID string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: lerpModalID + ":" + messageID,
		Title:    "Lerp It",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:  lerpInputID,
					Label:     "Short Input",
					Style:     discordgo.TextInputShort,
					Required:  true,
					MaxLength: 200,
				},
			}},
		},
	}
}

// parseLerpModal extracts the target message ID and the entered text.
func parseLerpModal(data discordgo.ModalSubmitInteractionData) (messageID, text string, ok bool) {
	messageID, found := strings.CutPrefix(data.CustomID, lerpModalID+":")
	if !found || messageID == "" {
		return "", "", false
	}
	for _, c := range data.Components {
		row, isRow := c.(*discordgo.ActionsRow)
		if !isRow {
			continue
		}
		for _, inner := range row.Components {
			if in, isInput := inner.(*discordgo.TextInput); isInput && in.CustomID == lerpInputID {
				return messageID, in.Value, true
			}
		}
	}
	return messageID, "", false
}

// commandOptions indexes slash command options by name.
func commandOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func stringOption(m map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o, ok := m[name]; ok {
		return strings.TrimSpace(o.StringValue())
	}
	return ""
}

func boolOption(m map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	if o, ok := m[name]; ok {
		return o.BoolValue()
	}
	return false
}
