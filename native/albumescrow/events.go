package albumescrow

import (
	"encoding/hex"
	"strconv"

	"github.com/sabaka-pes/Album-Shop/core/types"
)

const (
	EventTypeEscrowCreated   = "albumescrow.created"
	EventTypeEscrowPurchased = "albumescrow.purchased"
	EventTypeEscrowDelivered = "albumescrow.delivered"
)

// NewCreatedEvent returns the canonical event payload for a freshly deployed
// album escrow.
func NewCreatedEvent(a *Album) *types.Event {
	return newEscrowEvent(EventTypeEscrowCreated, a, nil)
}

// NewPurchasedEvent returns the canonical event payload emitted when the
// single qualifying payment is accepted.
func NewPurchasedEvent(a *Album, buyer [20]byte) *types.Event {
	return newEscrowEvent(EventTypeEscrowPurchased, a, &buyer)
}

// NewDeliveredEvent returns the canonical event payload emitted on delivery
// confirmation.
func NewDeliveredEvent(a *Album) *types.Event {
	return newEscrowEvent(EventTypeEscrowDelivered, a, nil)
}

func newEscrowEvent(eventType string, a *Album, buyer *[20]byte) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeAlbum(a)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["escrow"] = hex.EncodeToString(sanitized.Address[:])
	attrs["catalog"] = hex.EncodeToString(sanitized.Catalog[:])
	attrs["index"] = strconv.FormatUint(sanitized.Index, 10)
	attrs["title"] = sanitized.Title
	attrs["price"] = sanitized.Price.String()
	attrs["state"] = sanitized.State.String()
	if buyer != nil {
		attrs["buyer"] = hex.EncodeToString(buyer[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
