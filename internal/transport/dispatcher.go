package transport

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/render"
)

// Sender delivers a notification to destinations of one platform.
type Sender interface {
	Send(ctx context.Context, dest Destination, n *render.Notification) error
}

// Result is the outcome of one destination.
type Result struct {
	Destination Destination
	Err         error
}

// Dispatcher fans a notification out to every configured destination.
type Dispatcher struct {
	destinations []Destination
	senders      map[string]Sender
}

// NewDispatcher returns a Dispatcher for the given destinations. Senders are
// added with Register.
func NewDispatcher(destinations []Destination) *Dispatcher {
	return &Dispatcher{
		destinations: destinations,
		senders:      make(map[string]Sender),
	}
}

// Register sets the sender used for a platform.
func (d *Dispatcher) Register(platform string, s Sender) {
	d.senders[platform] = s
}

// Destinations returns the configured destinations.
func (d *Dispatcher) Destinations() []Destination {
	return d.destinations
}

// Deliver sends n to every destination. A failing destination never stops
// delivery to the ones after it; each outcome is reported in order.
func (d *Dispatcher) Deliver(ctx context.Context, n *render.Notification) []Result {
	results := make([]Result, 0, len(d.destinations))
	for _, dest := range d.destinations {
		err := d.send(ctx, dest, n)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"destination": dest.String(),
				"event_id":    n.EventID,
			}).Errorf("Failed to deliver notification: %v", err)
		}
		results = append(results, Result{Destination: dest, Err: err})
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, dest Destination, n *render.Notification) (err error) {
	sender, ok := d.senders[dest.Platform]
	if !ok {
		return fmt.Errorf("no sender for platform %q", dest.Platform)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return sender.Send(ctx, dest, n)
}
