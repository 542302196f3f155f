package telegram

import (
	"errors"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"ipwatch/internal/notify"
)

// Descriptions Telegram returns when the recipient can never be reached
// again through this bot.
var goneMarkers = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"user not found",
	"bot can't initiate conversation",
	"bot was kicked",
	"peer_id_invalid",
}

// classify wraps a Bot API error as a permanent or transient delivery failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return notify.Permanent(err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return notify.Permanent(err)
		}
	}
	return notify.Transient(err)
}
