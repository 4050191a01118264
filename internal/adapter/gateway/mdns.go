//go:build mdns

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Advertise publishes the gateway bound at boundAddr over mDNS/DNS-SD and
// blocks until ctx is cancelled.
func Advertise(ctx context.Context, instance, boundAddr, version string, auth bool, logger *slog.Logger) error {
	ad, err := newAdvertisement(instance, boundAddr, version, auth)
	if err != nil {
		return err
	}
	server, err := zeroconf.Register(ad.instance, mdnsServiceType, mdnsDomain, ad.port, ad.txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	defer server.Shutdown()

	logger.Info("mdns advertising gateway", "instance", ad.instance, "port", ad.port)
	<-ctx.Done()
	return nil
}

// Discover browses the local network for gateways until timeout elapses.
func Discover(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		wg    sync.WaitGroup
		peers []Peer
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			if p, ok := entryToPeer(e); ok {
				peers = append(peers, p)
			}
		}
	}()

	if err := resolver.Browse(scanCtx, mdnsServiceType, mdnsDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-scanCtx.Done()
	wg.Wait()

	sortPeers(peers)
	return peers, nil
}

func entryToPeer(e *zeroconf.ServiceEntry) (Peer, bool) {
	switch {
	case len(e.AddrIPv4) > 0:
		return peerFrom(e.Instance, e.AddrIPv4[0].String(), e.Port, e.Text), true
	case len(e.AddrIPv6) > 0:
		return peerFrom(e.Instance, e.AddrIPv6[0].String(), e.Port, e.Text), true
	default:
		return Peer{}, false
	}
}
