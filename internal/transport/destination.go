// Package transport delivers rendered notifications to chat, webhook and
// e-mail destinations.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidDestination reports a destination that is not platform:kind:id.
var ErrInvalidDestination = errors.New("invalid destination")

// Supported platforms.
const (
	PlatformTelegram = "telegram"
	PlatformWebhook  = "webhook"
	PlatformEmail    = "email"
)

var platforms = map[string]bool{
	PlatformTelegram: true,
	PlatformWebhook:  true,
	PlatformEmail:    true,
}

// Destination identifies one delivery target, written platform:kind:id.
type Destination struct {
	Platform string
	Kind     string
	ID       string
}

func (d Destination) String() string {
	return d.Platform + ":" + d.Kind + ":" + d.ID
}

// ParseDestination parses a platform:kind:id string. All three parts are
// required, none may be empty and the platform must have a sender.
func ParseDestination(s string) (Destination, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Destination{}, fmt.Errorf("%w %q: expected platform:kind:id", ErrInvalidDestination, s)
	}
	for _, part := range parts {
		if part == "" {
			return Destination{}, fmt.Errorf("%w %q: empty part", ErrInvalidDestination, s)
		}
	}
	platform := strings.ToLower(parts[0])
	if !platforms[platform] {
		return Destination{}, fmt.Errorf("%w %q: unsupported platform %q", ErrInvalidDestination, s, platform)
	}
	return Destination{
		Platform: platform,
		Kind:     parts[1],
		ID:       parts[2],
	}, nil
}

// ParseDestinations parses every entry, skipping and logging invalid ones.
func ParseDestinations(list []string) []Destination {
	destinations := make([]Destination, 0, len(list))
	for _, s := range list {
		d, err := ParseDestination(s)
		if err != nil {
			logrus.Warnf("Skipping destination: %v", err)
			continue
		}
		destinations = append(destinations, d)
	}
	return destinations
}
