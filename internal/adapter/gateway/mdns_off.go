//go:build !mdns

package gateway

import (
	"context"
	"log/slog"
	"time"
)

func Advertise(context.Context, string, string, string, bool, *slog.Logger) error {
	return ErrMDNSUnavailable
}

func Discover(context.Context, time.Duration) ([]Peer, error) {
	return nil, ErrMDNSUnavailable
}
