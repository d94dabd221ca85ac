// Package probe classifies the reachability of remote ports. It implements
// the external verification side of a guarded firewall change: after a block
// is committed, probing the host from a remote location confirms the ports
// are actually unreachable.
//
// Classification follows conventional packet-filter signals: an accepted
// connection means open, a connection refusal means closed (the host is up,
// nothing filters the port), and a timeout means filtered. Other I/O errors
// don't carry an authoritative signal and are reported as undetermined
// rather than guessed at.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"go4.org/netipx"

	"go.hackfix.me/fwguard/firewall/types"
)

// Status is the reachability classification of a single port.
type Status string

// All probe statuses.
const (
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusFiltered     Status = "filtered"
	StatusUndetermined Status = "undetermined"
)

// Blocked reports whether the status is consistent with the port being
// blocked by a firewall. A closed port counts: the block may act on the
// service rather than the filter, and either way nothing is reachable.
func (s Status) Blocked() bool {
	return s == StatusClosed || s == StatusFiltered
}

// Result is the outcome of probing one (target, protocol, port) tuple.
type Result struct {
	Target   netip.Addr
	Protocol types.Protocol
	Port     uint16
	Status   Status
	Detail   string
}

// Prober probes remote ports with bounded concurrency.
type Prober struct {
	timeout     time.Duration
	concurrency int
	dial        func(ctx context.Context, network, address string) (net.Conn, error)
}

// New returns a new Prober.
func New(opts ...Option) (*Prober, error) {
	p := &Prober{}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Probe classifies a single port on the target address.
func (p *Prober) Probe(ctx context.Context, target netip.Addr, proto types.Protocol, port uint16) Result {
	r := Result{Target: target, Protocol: proto, Port: port}
	addr := netip.AddrPortFrom(target, port).String()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch proto {
	case types.ProtocolTCP:
		r.Status, r.Detail = p.probeTCP(ctx, addr)
	case types.ProtocolUDP:
		r.Status, r.Detail = p.probeUDP(ctx, addr)
	default:
		r.Status = StatusUndetermined
		r.Detail = fmt.Sprintf("unsupported protocol %s", proto)
	}

	return r
}

// ScanAll probes every change item on every target, with at most
// `concurrency` probes in flight. Results are returned in (target, item)
// order regardless of completion order.
func (p *Prober) ScanAll(ctx context.Context, targets []netip.Addr, items []types.ChangeItem) []Result {
	results := make([]Result, len(targets)*len(items))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for ti, target := range targets {
		for ii, item := range items {
			wg.Add(1)
			go func(idx int, target netip.Addr, item types.ChangeItem) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[idx] = p.Probe(ctx, target, item.Protocol, item.Port)
			}(ti*len(items)+ii, target, item)
		}
	}
	wg.Wait()

	return results
}

func (p *Prober) probeTCP(ctx context.Context, addr string) (Status, string) {
	conn, err := p.dial(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		return StatusOpen, "connection accepted"
	}
	return classifyDialError(err)
}

// probeUDP sends a single datagram and waits for any reply. UDP carries no
// handshake, so silence is ambiguous: only an ICMP port-unreachable
// (surfacing as a refused connection) is an authoritative "closed".
func (p *Prober) probeUDP(ctx context.Context, addr string) (Status, string) {
	conn, err := p.dial(ctx, "udp", addr)
	if err != nil {
		return classifyDialError(err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return StatusUndetermined, fmt.Sprintf("failed setting deadline: %v", err)
		}
	}

	if _, err := conn.Write([]byte{0}); err != nil {
		return classifyDialError(err)
	}

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	switch {
	case err == nil:
		return StatusOpen, "reply received"
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusClosed, "ICMP port unreachable"
	case isTimeout(err):
		return StatusFiltered, "no reply (open or filtered)"
	}
	return StatusUndetermined, err.Error()
}

func classifyDialError(err error) (Status, string) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusClosed, "connection refused"
	case isTimeout(err):
		return StatusFiltered, "connection timed out"
	}
	// No authoritative signal; the host is assumed reachable but the port
	// state can't be classified. Kept as-is rather than guessing.
	return StatusUndetermined, err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// ParseTargets parses one or more target addresses in plain, CIDR or range
// notation into individual addresses. It refuses sets expanding to more
// than maxTargets addresses to keep scan sizes sane.
func ParseTargets(maxTargets int, vals ...string) ([]netip.Addr, error) {
	var b netipx.IPSetBuilder
	for _, val := range vals {
		// Try a plain address first
		addr, err := netip.ParseAddr(val)
		if err == nil {
			b.Add(addr)
			continue
		}
		// Try a prefix (CIDR) next
		cidr, err := netip.ParsePrefix(val)
		if err == nil {
			b.AddPrefix(cidr)
			continue
		}
		// Finally try a range
		ipRange, err := netipx.ParseIPRange(val)
		if err != nil {
			return nil, fmt.Errorf("failed parsing target address '%s': %w", val, err)
		}
		b.AddRange(ipRange)
	}

	ipSet, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed building target set: %w", err)
	}

	var addrs []netip.Addr
	for _, r := range ipSet.Ranges() {
		for addr := r.From(); addr.IsValid() && addr.Compare(r.To()) <= 0; addr = addr.Next() {
			addrs = append(addrs, addr)
			if len(addrs) > maxTargets {
				return nil, fmt.Errorf("target set expands to more than %d addresses", maxTargets)
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no target addresses given")
	}

	return addrs, nil
}
