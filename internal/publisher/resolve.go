package publisher

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

// Defaults fill in what neither the post nor the account configure.
type Defaults struct {
	APIEndpoint string
	Relays      []string
}

// Resolve picks the post's channel (post override, then account default,
// then direct) and its destination.
func Resolve(acc *models.Account, post *models.Post, d Defaults) (models.Delivery, error) {
	if acc == nil {
		return nil, common.ErrAccountNotFound
	}

	ch := models.ChannelDirect
	if post != nil && post.Channel != "" {
		ch = post.Channel
	} else if acc.Channel != "" {
		ch = acc.Channel
	}

	switch ch {
	case models.ChannelDirect:
		relays := acc.Relays
		if len(relays) == 0 {
			relays = d.Relays
		}
		return models.DirectDelivery{Relays: relays}, nil

	case models.ChannelAPI:
		endpoint := ""
		if post != nil {
			endpoint = strings.TrimSpace(post.APIEndpoint)
		}
		if endpoint == "" {
			endpoint = strings.TrimSpace(acc.APIEndpoint)
		}
		if endpoint == "" {
			endpoint = strings.TrimSpace(d.APIEndpoint)
		}
		if endpoint == "" {
			return nil, common.ErrMissingEndpoint
		}
		return models.APIDelivery{Endpoint: endpoint}, nil

	case models.ChannelNostrMQ:
		target := strings.TrimSpace(acc.NostrMQTarget)
		if target == "" {
			return nil, common.ErrMissingQueueTarget
		}
		return models.QueueDelivery{Target: target}, nil

	default:
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidChannel, ch)
	}
}
