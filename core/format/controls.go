package format

import (
	"net/url"
	"strconv"
	"strings"

	"listing-bot/core/listings"
)

// RetractPrefix starts the callback data of the retract button.
const RetractPrefix = "delete_"

const (
	retractLabel = "❌ Снять с публикации"
	viewLabel    = "👁 Посмотреть объявление"
	contactLabel = "✉️ Связаться с автором"
)

type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// OwnerControls is attached to the owner's acknowledgement. publicLink may
// be empty when the public copy wasn't posted.
func OwnerControls(_ listings.Listing, token, publicLink string) Keyboard {
	kb := Keyboard{{{Text: retractLabel, CallbackData: RetractPrefix + token}}}
	if publicLink != "" {
		kb = append(kb, []Button{{Text: viewLabel, URL: publicLink}})
	}
	return kb
}

// PublicControls is attached to the public copy. It never carries a
// retract button.
func PublicControls(l listings.Listing) Keyboard {
	username := strings.TrimPrefix(l.Owner.Username, "@")
	if username == "" {
		return nil
	}
	return Keyboard{{{Text: contactLabel, URL: "https://t.me/" + url.PathEscape(username)}}}
}

// PublicLink returns a t.me link to messageID in chat, "" when chat has no
// linkable form. chat is a "@channel" username or a "-100..." supergroup id.
func PublicLink(chat string, messageID int) string {
	if messageID <= 0 {
		return ""
	}
	id := strconv.Itoa(messageID)

	switch {
	case strings.HasPrefix(chat, "@") && len(chat) > 1:
		return "https://t.me/" + chat[1:] + "/" + id
	case strings.HasPrefix(chat, "-100") && len(chat) > 4:
		if _, err := strconv.ParseInt(chat[4:], 10, 64); err != nil {
			return ""
		}
		return "https://t.me/c/" + chat[4:] + "/" + id
	}
	return ""
}
