package models

import (
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
)

// Channel names a delivery mechanism.
type Channel string

const (
	ChannelDirect  Channel = "direct"
	ChannelAPI     Channel = "api"
	ChannelNostrMQ Channel = "nostrmq"
)

// ParseChannel validates s. The empty string parses to the empty channel,
// meaning "use the account default".
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case "", ChannelDirect, ChannelAPI, ChannelNostrMQ:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", common.ErrInvalidChannel, s)
	}
}

// Delivery is the resolved, channel-specific destination of a post. Exactly
// one of DirectDelivery, APIDelivery or QueueDelivery.
type Delivery interface {
	Channel() Channel
	isDelivery()
}

type DirectDelivery struct {
	Relays []string
}

type APIDelivery struct {
	Endpoint string
}

type QueueDelivery struct {
	Target string
}

func (DirectDelivery) Channel() Channel { return ChannelDirect }
func (APIDelivery) Channel() Channel    { return ChannelAPI }
func (QueueDelivery) Channel() Channel  { return ChannelNostrMQ }

func (DirectDelivery) isDelivery() {}
func (APIDelivery) isDelivery()    {}
func (QueueDelivery) isDelivery()  {}
