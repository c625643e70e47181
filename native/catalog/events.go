package catalog

import (
	"encoding/hex"
	"strconv"

	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
)

const (
	// EventTypeAlbumStateChanged is the canonical audit-trail event. It is
	// emitted once at registration and re-emitted for every state change an
	// escrow reports, so indexers can watch a single stream.
	EventTypeAlbumStateChanged = "catalog.album.state_changed"
	// EventTypeOwnershipTransferred records an administrator handover.
	EventTypeOwnershipTransferred = "catalog.ownership_transferred"
)

// NewAlbumStateChangedEvent builds the canonical (escrow, index, state, title)
// notification.
func NewAlbumStateChangedEvent(escrow [20]byte, index uint64, state albumescrow.State, title string) *types.Event {
	return &types.Event{
		Type: EventTypeAlbumStateChanged,
		Attributes: map[string]string{
			"escrow": hex.EncodeToString(escrow[:]),
			"index":  strconv.FormatUint(index, 10),
			"state":  state.String(),
			"title":  title,
		},
	}
}

// NewOwnershipTransferredEvent records the previous and new administrator.
func NewOwnershipTransferredEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": hex.EncodeToString(previous[:]),
			"newOwner":      hex.EncodeToString(next[:]),
		},
	}
}
