package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// DialNostr connects to a relay over websocket.
func DialNostr(ctx context.Context, url string) (Conn, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &nostrConn{r: r}, nil
}

type nostrConn struct {
	r *nostr.Relay
}

func (c *nostrConn) Publish(ctx context.Context, ev nostr.Event) error {
	return c.r.Publish(ctx, ev)
}

func (c *nostrConn) Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	sub, err := c.r.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}
	return sub.Events, nil
}

func (c *nostrConn) Close() error {
	return c.r.Close()
}
