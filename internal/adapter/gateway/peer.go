package gateway

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	mdnsServiceType = "_codegen-agent._tcp"
	mdnsDomain      = "local."
)

// ErrMDNSUnavailable is returned by Advertise and Discover in binaries built
// without the mdns tag.
var ErrMDNSUnavailable = errors.New("mdns support not compiled in (build with -tags mdns)")

// Peer is a gateway found on the local network.
type Peer struct {
	Instance string `json:"instance"`
	Addr     string `json:"addr"`
	Version  string `json:"version,omitempty"`
	Auth     bool   `json:"auth"`
}

// advertisement is what a gateway publishes about itself.
type advertisement struct {
	instance string
	port     int
	txt      []string
}

func newAdvertisement(instance, boundAddr, version string, auth bool) (advertisement, error) {
	_, portStr, err := net.SplitHostPort(boundAddr)
	if err != nil {
		return advertisement{}, fmt.Errorf("mdns: bound address %q: %w", boundAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return advertisement{}, fmt.Errorf("mdns: bound address %q has no usable port", boundAddr)
	}
	if instance == "" {
		instance, _ = os.Hostname()
	}
	if instance == "" {
		instance = "codegen-agent"
	}
	return advertisement{
		instance: instance,
		port:     port,
		txt:      []string{"version=" + version, "auth=" + strconv.FormatBool(auth)},
	}, nil
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok {
			m[k] = v
		}
	}
	return m
}

func peerFrom(instance, host string, port int, txt []string) Peer {
	meta := parseTXT(txt)
	auth, _ := strconv.ParseBool(meta["auth"])
	return Peer{
		Instance: instance,
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Version:  meta["version"],
		Auth:     auth,
	}
}

func sortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Instance != peers[j].Instance {
			return peers[i].Instance < peers[j].Instance
		}
		return peers[i].Addr < peers[j].Addr
	})
}
