// Package discovery finds the lighting gateway over mDNS when no address
// is configured.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// Service is the mDNS service type the gateway announces.
const Service = "_cuesync-gw._tcp"

// Discover browses for the gateway and returns "host:port" of the first
// instance seen, or an error when the timeout elapses with no answer.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, Service, "local.", entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}

	for {
		select {
		case entry := <-entries:
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
			log.Info().Str("instance", entry.Instance).Str("addr", addr).Msg("Gateway discovered via mDNS")
			return addr, nil
		case <-browseCtx.Done():
			return "", fmt.Errorf("no gateway found within %s", timeout)
		}
	}
}
