package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dwizi/lab-relay/internal/dispatch"
)

const localChatID = "local"

// LocalRequest wraps a command typed at the console.
func LocalRequest(text string) dispatch.Request {
	return dispatch.Request{ChatID: localChatID, UserID: localChatID, Text: text}
}

// consolePublisher prints chat messages for local runs.
type consolePublisher struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *consolePublisher) Publish(ctx context.Context, externalID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "[to %s]\n%s\n\n", externalID, text)
	return err
}
