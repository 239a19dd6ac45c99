package connectors

import "context"

type Connector interface {
	Name() string
	Start(ctx context.Context) error
}

// Publisher delivers a message to a chat identified by its connector-specific id.
type Publisher interface {
	Publish(ctx context.Context, externalID, text string) error
}
