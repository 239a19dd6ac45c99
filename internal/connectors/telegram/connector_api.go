package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func (c *Connector) fetchBotUsername(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getMe", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", redactToken(err, c.token)
	}
	defer res.Body.Close()

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", err
	}
	if !payload.OK {
		return "", fmt.Errorf("telegram getMe failed: status=%d", res.StatusCode)
	}
	return strings.TrimSpace(payload.Result.Username), nil
}

// sendMessage sends Markdown text and falls back to plain text when Telegram cannot
// parse the entities, so a stray character never loses a reply.
func (c *Connector) sendMessage(ctx context.Context, chatID int64, text string) error {
	err := c.postMessage(ctx, chatID, text, "Markdown")
	if errors.Is(err, errParseEntities) {
		c.logger.Warn("telegram markdown rejected, resending as plain text", "chat_id", chatID)
		return c.postMessage(ctx, chatID, text, "")
	}
	return err
}

func (c *Connector) postMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return redactToken(err, c.token)
	}
	defer res.Body.Close()

	var response apiResponse
	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, 8192))
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return fmt.Errorf("decode sendMessage: status=%d body=%q err=%w", res.StatusCode, strings.TrimSpace(string(bodyBytes)), err)
	}
	if response.OK && res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	description := strings.TrimSpace(response.Description)
	if description == "" {
		description = strings.TrimSpace(string(bodyBytes))
	}
	if res.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(description), "can't parse entities") {
		return fmt.Errorf("%w: %s", errParseEntities, description)
	}
	return fmt.Errorf("telegram sendMessage failed: status=%d error_code=%d description=%s", res.StatusCode, response.ErrorCode, description)
}
