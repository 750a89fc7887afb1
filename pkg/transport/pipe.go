package transport

import (
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation.
// Use this to exercise handshake retransmission and replay handling.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each packet.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each packet.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a packet (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic packet delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers packets.
	// Default: 1ms
	ProcessInterval time.Duration

	// Endpoints are the addresses of side 0 and side 1.
	// Defaults to 192.0.2.1:40000 and 192.0.2.2:50000.
	Endpoints [2]Endpoint
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
		Endpoints: [2]Endpoint{
			NewEndpoint(netip.AddrFrom4([4]byte{192, 0, 2, 1}), 40000),
			NewEndpoint(netip.AddrFrom4([4]byte{192, 0, 2, 2}), 50000),
		},
	}
}

// Pipe is an in-memory point-to-point UDP link between two endpoints.
// It wraps pion's test.Bridge and adds network condition simulation.
//
// By default, Pipe delivers packets in a background goroutine.
// Use SetAutoProcess(false) and Process() for deterministic ordering.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PipePacketConn

	mu              sync.RWMutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	defaults := DefaultPipeConfig()
	if !config.Endpoints[0].IsValid() {
		config.Endpoints[0] = defaults.Endpoints[0]
	}
	if !config.Endpoints[1].IsValid() {
		config.Endpoints[1] = defaults.Endpoints[1]
	}

	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.conns[0] = &PipePacketConn{
		conn:  p.bridge.GetConn0(),
		local: config.Endpoints[0],
		peer:  config.Endpoints[1],
		pipe:  p,
	}
	p.conns[1] = &PipePacketConn{
		conn:  p.bridge.GetConn1(),
		local: config.Endpoints[1],
		peer:  config.Endpoints[0],
		pipe:  p,
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic packet delivery.
// When disabled, call Tick() or Process() manually.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}

	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures network condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current network condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Conn returns the packet connection for side 0 or 1.
func (p *Pipe) Conn(side int) *PipePacketConn {
	return p.conns[side&1]
}

// Tick delivers one packet in each direction (if available).
// Returns the number of packets delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets.
// Returns the number of packets delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()

	// The bridge only releases blocked readers on a tick with empty queues.
	p.bridge.Drop(0, 0, p.bridge.Len(0))
	p.bridge.Drop(1, 0, p.bridge.Len(1))
	p.bridge.Tick()

	if err0 != nil {
		return err0
	}
	return err1
}

// PipePacketConn is one side of a Pipe as a net.PacketConn.
// Reads report the peer endpoint as source; the write address is ignored
// since the pipe has a single peer.
type PipePacketConn struct {
	conn  net.Conn
	local Endpoint
	peer  Endpoint
	pipe  *Pipe
}

// ReadFrom reads a packet from the pipe.
func (c *PipePacketConn) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, err = c.conn.Read(b)
	return n, c.peer.UDPAddr(), err
}

// WriteTo writes a packet to the pipe, applying the network condition.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (n int, err error) {
	c.pipe.mu.RLock()
	cond := c.pipe.condition
	rng := c.pipe.rng
	c.pipe.mu.RUnlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return len(b), nil
	}

	if cond.DelayMax > 0 {
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}

	return c.conn.Write(b)
}

// Close closes this side of the pipe.
func (c *PipePacketConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local endpoint.
func (c *PipePacketConn) LocalAddr() net.Addr {
	return c.local.UDPAddr()
}

// LocalEndpoint returns the local endpoint.
func (c *PipePacketConn) LocalEndpoint() Endpoint {
	return c.local
}

// PeerEndpoint returns the endpoint of the other side.
func (c *PipePacketConn) PeerEndpoint() Endpoint {
	return c.peer
}

// SetDeadline sets the read and write deadlines.
func (c *PipePacketConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *PipePacketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

var _ net.PacketConn = (*PipePacketConn)(nil)
