package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

var (
	// ErrNoRelay indicates no relay answered within the scan window.
	ErrNoRelay = errors.New("discovery: no relay found")
)

// RelayEndpoint is one relay found on the LAN.
type RelayEndpoint struct {
	RelayID   string
	Instance  string
	Version   int
	HostName  string
	Port      int
	Addresses []string
}

// Address returns a dialable host:port, preferring IPv4.
func (r RelayEndpoint) Address() string {
	host := r.HostName
	if len(r.Addresses) > 0 {
		host = r.Addresses[0]
	}
	return net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(r.Port))
}

// Browse collects every relay advertised during one scan window.
func Browse(ctx context.Context, config Config) ([]RelayEndpoint, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]RelayEndpoint)
	collectorDone := make(chan struct{})

	collect := func(entry *zeroconf.ServiceEntry) {
		if entry == nil {
			return
		}
		if relay, valid := parseEntry(entry); valid {
			collected[relay.RelayID] = relay
		}
	}

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				// Keep entries that were queued before the window closed.
				for {
					select {
					case entry, ok := <-entries:
						if !ok {
							return
						}
						collect(entry)
					default:
						return
					}
				}
			case entry, ok := <-entries:
				if !ok {
					return
				}
				collect(entry)
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, err
	}

	<-scanCtx.Done()
	<-collectorDone

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	relays := make([]RelayEndpoint, 0, len(collected))
	for _, relay := range collected {
		relays = append(relays, relay)
	}
	sort.Slice(relays, func(i, j int) bool {
		if relays[i].Instance == relays[j].Instance {
			return relays[i].RelayID < relays[j].RelayID
		}
		return relays[i].Instance < relays[j].Instance
	})
	return relays, nil
}

// Locate returns the first relay found on the LAN.
func Locate(ctx context.Context, config Config) (RelayEndpoint, error) {
	relays, err := Browse(ctx, config)
	if err != nil {
		return RelayEndpoint{}, err
	}
	if len(relays) == 0 {
		return RelayEndpoint{}, ErrNoRelay
	}
	return relays[0], nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (RelayEndpoint, bool) {
	txt := txtToMap(entry.Text)

	relayID := strings.TrimSpace(txt["relay_id"])
	if relayID == "" || entry.Port <= 0 {
		return RelayEndpoint{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return RelayEndpoint{}, false
	}

	return RelayEndpoint{
		RelayID:   relayID,
		Instance:  strings.TrimSpace(entry.Instance),
		Version:   version,
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
