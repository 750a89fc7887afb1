// Package rtcpstats keeps RTCP statistics for the streams of one session and
// emits periodic sender and receiver reports (RFC 3550 Section 6.4).
//
// Loss, jitter, extended sequence and LSR/DLSR bookkeeping is done by the
// pion/interceptor report interceptors. A Reporter binds a stream per SSRC
// the first time a packet is seen and feeds packets through the chain; the
// chain's report loops hand finished reports to Config.Write.
package rtcpstats

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	// DefaultClockRate is used when the media clock is unknown.
	DefaultClockRate = 90000

	// DefaultInterval is the report interval.
	DefaultInterval = time.Second

	// MaxStreams bounds the SSRCs tracked per direction.
	MaxStreams = 64
)

// Config configures a Reporter.
type Config struct {
	// ID names the interceptor chain, usually the session ID.
	ID string

	// Interval between report rounds. Default: 1s.
	Interval time.Duration

	// ClockRate is the RTP clock of bound streams. Default: 90000.
	ClockRate uint32

	// Write sends one batch of generated reports. Required. It is called
	// from the report goroutines and must not block.
	Write func(pkts []rtcp.Packet) error

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used by the interceptors.
	LoggerFactory logging.LoggerFactory
}

// Reporter tracks per-SSRC statistics in both directions.
type Reporter struct {
	config Config
	chain  interceptor.Interceptor
	rtcpIn interceptor.RTCPReader

	mu     sync.Mutex
	closed bool
	local  map[uint32]*localStream
	remote map[uint32]*remoteStream
}

type localStream struct {
	info   *interceptor.StreamInfo
	writer interceptor.RTPWriter
}

type remoteStream struct {
	info   *interceptor.StreamInfo
	reader interceptor.RTPReader
}

// NewReporter builds the report interceptor chain and starts its loops.
func NewReporter(config Config) (*Reporter, error) {
	if config.Write == nil {
		return nil, ErrNoWriter
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.ClockRate == 0 {
		config.ClockRate = DefaultClockRate
	}

	recvOpts := []report.ReceiverOption{report.ReceiverInterval(config.Interval)}
	sendOpts := []report.SenderOption{report.SenderInterval(config.Interval)}
	if config.LoggerFactory != nil {
		log := config.LoggerFactory.NewLogger("rtcp")
		recvOpts = append(recvOpts, report.ReceiverLog(log))
		sendOpts = append(sendOpts, report.SenderLog(log))
	}

	receiver, err := report.NewReceiverInterceptor(recvOpts...)
	if err != nil {
		return nil, err
	}
	sender, err := report.NewSenderInterceptor(sendOpts...)
	if err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	registry.Add(receiver)
	registry.Add(sender)

	chain, err := registry.Build(config.ID)
	if err != nil {
		return nil, err
	}

	r := &Reporter{
		config: config,
		chain:  chain,
		local:  make(map[uint32]*localStream),
		remote: make(map[uint32]*remoteStream),
	}
	chain.BindRTCPWriter(interceptor.RTCPWriterFunc(r.write))
	r.rtcpIn = chain.BindRTCPReader(interceptor.RTCPReaderFunc(
		func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
			return len(b), a, nil
		}))
	return r, nil
}

func (r *Reporter) write(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
	if err := r.config.Write(pkts); err != nil {
		return 0, err
	}
	return len(pkts), nil
}

// ReceivedRTP records one decrypted inbound RTP packet. raw is the plain
// packet as received.
func (r *Reporter) ReceivedRTP(raw []byte, ssrc uint32) error {
	stream, err := r.remoteStream(ssrc)
	if err != nil {
		return err
	}
	_, _, err = stream.reader.Read(raw, nil)
	return err
}

// ReceivedRTCP records one decrypted inbound compound RTCP packet. Sender
// reports update LSR/DLSR for the matching remote stream.
func (r *Reporter) ReceivedRTCP(raw []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, _, err := r.rtcpIn.Read(raw, nil)
	return err
}

// SentRTP records one outbound RTP packet.
func (r *Reporter) SentRTP(header *rtp.Header, payload []byte) error {
	stream, err := r.localStream(header.SSRC)
	if err != nil {
		return err
	}
	_, err = stream.writer.Write(header, payload, nil)
	return err
}

func (r *Reporter) remoteStream(ssrc uint32) (*remoteStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.remote[ssrc]; ok {
		return s, nil
	}
	if len(r.remote) >= MaxStreams {
		return nil, ErrTooManyStreams
	}

	info := r.streamInfo(ssrc)
	s := &remoteStream{
		info: info,
		reader: r.chain.BindRemoteStream(info, interceptor.RTPReaderFunc(
			func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
				return len(b), a, nil
			})),
	}
	r.remote[ssrc] = s
	return s, nil
}

func (r *Reporter) localStream(ssrc uint32) (*localStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.local[ssrc]; ok {
		return s, nil
	}
	if len(r.local) >= MaxStreams {
		return nil, ErrTooManyStreams
	}

	info := r.streamInfo(ssrc)
	s := &localStream{
		info: info,
		writer: r.chain.BindLocalStream(info, interceptor.RTPWriterFunc(
			func(_ *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
				return len(payload), nil
			})),
	}
	r.local[ssrc] = s
	return s, nil
}

func (r *Reporter) streamInfo(ssrc uint32) *interceptor.StreamInfo {
	return &interceptor.StreamInfo{
		ID:        r.config.ID,
		SSRC:      ssrc,
		ClockRate: r.config.ClockRate,
	}
}

// RemoteStreams returns the number of inbound SSRCs being tracked.
func (r *Reporter) RemoteStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.remote)
}

// LocalStreams returns the number of outbound SSRCs being tracked.
func (r *Reporter) LocalStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local)
}

// Close unbinds every stream and stops the report loops. It waits for an
// in-flight Write to return.
func (r *Reporter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for ssrc, s := range r.remote {
		r.chain.UnbindRemoteStream(s.info)
		delete(r.remote, ssrc)
	}
	for ssrc, s := range r.local {
		r.chain.UnbindLocalStream(s.info)
		delete(r.local, ssrc)
	}
	r.mu.Unlock()

	return r.chain.Close()
}
