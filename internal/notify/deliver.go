package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// ErrNoListener is returned when a recipient has no connected client.
var ErrNoListener = errors.New("no connected listener")

// RoomPrefix prefixes the private room of every recipient.
const RoomPrefix = "notify:"

// Publisher publishes an event to a room and reports how many clients received it.
type Publisher interface {
	Publish(room, event string, payload interface{}) int
}

// RoomDeliverer delivers notifications to the private room of each recipient.
type RoomDeliverer struct {
	pub Publisher
}

// NewRoomDeliverer creates a Deliverer backed by pub.
func NewRoomDeliverer(pub Publisher) *RoomDeliverer {
	return &RoomDeliverer{pub: pub}
}

// RecipientRoom returns the private room of recipient.
func RecipientRoom(recipient string) string {
	return RoomPrefix + recipient
}

// Deliver publishes n to the recipient's room. It fails when nobody is
// listening so the miss is logged by the router.
func (d *RoomDeliverer) Deliver(ctx context.Context, recipient, event string, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.pub.Publish(RecipientRoom(recipient), event, n) == 0 {
		return fmt.Errorf("deliver to %s: %w", recipient, ErrNoListener)
	}
	return nil
}

type deliveryPanic struct {
	value interface{}
}

func (p *deliveryPanic) Error() string {
	return fmt.Sprintf("deliverer panicked: %v", p.value)
}
