// Package discovery is DNS node discovery: an optional background loop
// that resolves a DNS name to a set of backend addresses and
// reconciles them into the registry, supplementing the static/env node
// list without ever touching nodes from other sources.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
)

// Config tunes the discovery loop.
type Config struct {
	DNSName  string
	Port     int
	Interval time.Duration
	Resolver string // "host:port" of the DNS server to query
}

// Resolver is the subset of DNS client behavior discovery depends on,
// satisfied by *dnsResolver in production and stubbed in tests.
type Resolver interface {
	LookupHost(ctx context.Context, name string) ([]string, error)
}

// Discoverer owns the background reconciliation loop.
type Discoverer struct {
	reg      *registry.Registry
	cfg      Config
	resolver Resolver
	logger   *zap.Logger
}

// New builds a Discoverer bound to reg. Discovery is a no-op if
// cfg.DNSName is empty.
func New(reg *registry.Registry, cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		reg:      reg,
		cfg:      cfg,
		resolver: &dnsResolver{server: cfg.Resolver},
		logger:   logger,
	}
}

// Run blocks, resolving cfg.DNSName on every tick until ctx is
// cancelled. A lookup failure is logged and skipped; it never tears
// down previously discovered nodes.
func (d *Discoverer) Run(ctx context.Context) {
	if d.cfg.DNSName == "" {
		return
	}
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Discoverer) tick(ctx context.Context) {
	addrs, err := d.resolver.LookupHost(ctx, d.cfg.DNSName)
	if err != nil {
		d.logger.Warn("dns discovery lookup failed",
			zap.String("name", d.cfg.DNSName),
			zap.Error(err),
		)
		return
	}
	d.reconcile(addrs)
}

// reconcile converges the registry's SourceDiscovery nodes onto addrs,
// leaving every statically- or admin-configured node untouched.
func (d *Discoverer) reconcile(addrs []string) {
	sort.Strings(addrs)

	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}

	existing := d.reg.FindBySource(node.SourceDiscovery)
	byHost := make(map[string]node.Node, len(existing))
	for _, n := range existing {
		byHost[n.Endpoint.Host] = n
	}

	for host, n := range byHost {
		if !want[host] {
			d.reg.Delete(n.ID)
			d.logger.Info("discovery node removed", zap.String("node_id", string(n.ID)), zap.String("host", host))
		}
	}

	for i, host := range addrs {
		if _, ok := byHost[host]; ok {
			continue
		}
		id := node.ID(fmt.Sprintf("dns-%d", i+1))
		for k := i + 2; d.reg.Exists(id); k++ {
			id = node.ID(fmt.Sprintf("dns-%d", k))
		}
		n := node.New(id, node.Endpoint{Scheme: node.SchemeHTTP, Host: host, Port: d.cfg.Port}, node.SourceDiscovery, time.Now())
		d.reg.Save(n)
		d.logger.Info("discovery node added", zap.String("node_id", string(id)), zap.String("host", host))
	}
}

// dnsResolver is the production Resolver, issuing a plain A-record
// query via miekg/dns against the configured server (or 8.8.8.8:53
// when unset).
type dnsResolver struct {
	server string
}

func (r *dnsResolver) LookupHost(ctx context.Context, name string) ([]string, error) {
	server := r.server
	if server == "" {
		server = "8.8.8.8:53"
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	client := new(dns.Client)
	client.Timeout = 5 * time.Second

	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("discovery: dns exchange for %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("discovery: dns rcode %d for %s", resp.Rcode, name)
	}

	var out []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}
