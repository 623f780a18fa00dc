package remote

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 800 * time.Millisecond

// DiscoverOptions bounds a LAN discovery sweep.
type DiscoverOptions struct {
	Port    int
	Timeout time.Duration
}

func (o DiscoverOptions) withDefaults() DiscoverOptions {
	if o.Port <= 0 {
		o.Port = 19880 //nolint:mnd
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second //nolint:mnd
	}
	return o
}

// Discover finds a reachable dpl Server on the local network (spec §4.7
// discovery note), racing candidate addresses and returning the first that
// answers /health. It checks, in order: localhost, each local interface's
// own address, then the rest of that interface's /24 subnet — all fanned
// out concurrently and bounded, first success wins.
func Discover(ctx context.Context, opts DiscoverOptions) (baseURL string, err error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	candidates := candidateHosts()
	probeClient := &http.Client{Timeout: probeTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(32) //nolint:mnd

	found := make(chan string, 1)
	for _, host := range candidates {
		host := host
		g.Go(func() error {
			url := fmt.Sprintf("http://%s:%d", host, opts.Port)
			c := NewClient(url, probeClient)
			if _, probeErr := c.Health(gctx); probeErr != nil {
				return nil //nolint:nilerr
			}
			select {
			case found <- url:
			default:
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(found)
	}()

	select {
	case url, ok := <-found:
		if !ok || url == "" {
			return "", fmt.Errorf("discover: no dpl server found on port %d", opts.Port)
		}
		return url, nil
	case <-ctx.Done():
		return "", fmt.Errorf("discover: %w", ctx.Err())
	}
}

// candidateHosts enumerates loopback, each non-loopback interface address,
// and the rest of that address's /24, as plain dotted-quad strings.
func candidateHosts() []string {
	hosts := []string{"127.0.0.1"}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return hosts
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		hosts = append(hosts, ip4.String())
		hosts = append(hosts, subnetHosts(ip4)...)
	}
	return hosts
}

// subnetHosts lists the other /24 addresses sharing ip's first three octets.
func subnetHosts(ip4 net.IP) []string {
	base := strings.Join(strings.Split(ip4.String(), ".")[:3], ".")
	hosts := make([]string, 0, 254) //nolint:mnd
	for i := 1; i < 255; i++ {
		host := base + "." + strconv.Itoa(i)
		if host == ip4.String() {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}
