package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dwizi/lab-relay/internal/registry"
)

// syncCommands publishes the registry as the bot's command menu.
func (c *Connector) syncCommands(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/bot%s/setMyCommands", c.apiBase, c.token)
	entries := c.commands.Entries()
	commands := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		name := registry.NormalizeName(entry.Name)
		if name == "" {
			continue
		}
		commands = append(commands, map[string]string{
			"command":     name,
			"description": telegramCommandDescription(entry.Description),
		})
	}
	payload, err := json.Marshal(map[string]any{"commands": commands})
	if err != nil {
		return err
	}
	return c.postJSON(ctx, endpoint, "setMyCommands", payload)
}

func (c *Connector) dropPendingUpdates(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/bot%s/deleteWebhook", c.apiBase, c.token)
	payload, err := json.Marshal(map[string]any{"drop_pending_updates": true})
	if err != nil {
		return err
	}
	return c.postJSON(ctx, endpoint, "deleteWebhook", payload)
}

func (c *Connector) postJSON(ctx context.Context, endpoint, method string, payload []byte) error {
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
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		message, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s failed: status=%d body=%s", method, res.StatusCode, strings.TrimSpace(string(message)))
	}

	var response apiResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if !response.OK {
		return fmt.Errorf("telegram %s failed: %s", method, strings.TrimSpace(response.Description))
	}
	return nil
}
