package telegram

import (
	"errors"
	"strings"
)

// errParseEntities is returned when Telegram rejects a message's Markdown.
var errParseEntities = errors.New("telegram could not parse message entities")

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64        `json:"message_id"`
	From      telegramUser `json:"from"`
	Chat      telegramChat `json:"chat"`
	Text      string       `json:"text"`
}

type telegramChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type telegramUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsBot    bool   `json:"is_bot"`
}

// commandAddressee returns the bot a command like "/lab_status@lab_bot" is addressed to.
func commandAddressee(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	_, bot, found := strings.Cut(fields[0], "@")
	if !found {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(bot))
}

func telegramCommandDescription(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return "Lab relay command"
	}
	if len(trimmed) > 256 {
		return strings.TrimSpace(trimmed[:256])
	}
	return trimmed
}
