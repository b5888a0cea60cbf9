package expert

import (
	"nevexpert/internal/models"

	"github.com/cloudwego/eino/schema"
)

// fallbackMediaType is used when an attachment arrives without a declared
// image type.
const fallbackMediaType = "image/jpeg"

// buildMessages converts the ordered turn history into provider messages.
// The persona instruction leads; an inline image is serialized only for the
// final turn, matching the wire contract.
func buildMessages(turns []*models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns)+1)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: systemInstruction,
	})

	for i, turn := range turns {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}

		msg := &schema.Message{
			Role:    role,
			Content: turn.Content,
		}
		if turn.Attachment != nil && i == len(turns)-1 {
			msg.Content = ""
			msg.MultiContent = imageParts(turn.Content, turn.Attachment)
		}
		messages = append(messages, msg)
	}
	return messages
}

func imageParts(text string, att *models.Attachment) []schema.ChatMessagePart {
	mediaType := att.MediaType
	if mediaType == "" {
		mediaType = fallbackMediaType
	}
	var parts []schema.ChatMessagePart
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: text,
		})
	}
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeImageURL,
		ImageURL: &schema.ChatMessageImageURL{
			URL:      "data:" + mediaType + ";base64," + att.Data,
			MIMEType: mediaType,
		},
	})
	return parts
}
