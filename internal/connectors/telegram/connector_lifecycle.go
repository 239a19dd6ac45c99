package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/heartbeat"
)

func (c *Connector) Publish(ctx context.Context, externalID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram external id: %w", err)
	}
	message := strings.TrimSpace(text)
	if message == "" {
		return nil
	}
	return c.sendMessage(ctx, chatID, message)
}

func (c *Connector) Start(ctx context.Context) error {
	c.report(func(r heartbeat.Reporter) { r.Starting(heartbeat.ComponentTelegram, "starting") })
	if c.token == "" || c.dispatcher == nil {
		c.report(func(r heartbeat.Reporter) { r.Disabled(heartbeat.ComponentTelegram, "token or dispatcher missing") })
		c.logger.Info("connector disabled, token or dispatcher missing")
		<-ctx.Done()
		return nil
	}

	c.logger.Info("connector started", "api_base", c.apiBase)
	if username, err := c.fetchBotUsername(ctx); err == nil {
		c.botUsername = username
		c.logger.Info("telegram connection ok", "username", c.botUsername)
	} else {
		c.logger.Warn("telegram connection test failed", "error", err)
	}
	if c.dropPending {
		if err := c.dropPendingUpdates(ctx); err != nil {
			c.logger.Warn("telegram pending update drop failed", "error", err)
		}
	}
	if c.commandSync && c.commands != nil {
		if err := c.syncCommands(ctx); err != nil {
			c.logger.Warn("telegram command sync failed", "error", err)
		} else {
			c.logger.Info("telegram commands synced")
		}
	}
	c.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentTelegram, "polling updates") })

	for {
		if ctx.Err() != nil {
			c.report(func(r heartbeat.Reporter) { r.Stopped(heartbeat.ComponentTelegram, "stopped") })
			c.logger.Info("connector stopped")
			return nil
		}
		if err := c.pollOnce(ctx); err != nil && ctx.Err() == nil {
			c.report(func(r heartbeat.Reporter) { r.Degrade(heartbeat.ComponentTelegram, "poll failed", err) })
			c.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.retryBackoff):
			}
		} else if ctx.Err() == nil {
			c.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentTelegram, "poll cycle ok") })
		}
	}
}

func (c *Connector) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d", c.apiBase, c.token, c.pollSeconds, c.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return redactToken(err, c.token)
	}
	defer res.Body.Close()

	var payload getUpdatesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram getUpdates failed: status=%d", res.StatusCode)
	}

	// Commands are handled one at a time, in arrival order.
	for _, update := range payload.Result {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		if update.Message == nil {
			continue
		}
		c.handleMessage(ctx, update.UpdateID, *update.Message)
	}
	return nil
}

func (c *Connector) handleMessage(ctx context.Context, updateID int64, message telegramMessage) {
	text := strings.TrimSpace(message.Text)
	if !strings.HasPrefix(text, "/") || message.From.IsBot {
		return
	}
	if addressee := commandAddressee(text); addressee != "" && c.botUsername != "" && addressee != strings.ToLower(c.botUsername) {
		c.logger.Debug("command addressed to another bot", "update_id", updateID, "addressee", addressee)
		return
	}
	command := strings.Fields(text)[0]
	c.report(func(r heartbeat.Reporter) { r.Busy(heartbeat.ComponentTelegram, "running "+command) })
	trace := c.dispatcher.Handle(ctx, dispatch.Request{
		ChatID: strconv.FormatInt(message.Chat.ID, 10),
		UserID: strconv.FormatInt(message.From.ID, 10),
		Text:   text,
	})
	c.logger.Info("telegram command handled",
		"update_id", updateID,
		"request_id", trace.RequestID,
		"command", trace.Command,
		"state", trace.Final().String(),
	)
	c.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentTelegram, "command handled") })
}

func (c *Connector) report(fn func(heartbeat.Reporter)) {
	if c.reporter != nil {
		fn(c.reporter)
	}
}

// redactToken strips the bot token from transport errors, which embed the request URL.
func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
