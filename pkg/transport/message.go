package transport

// Datagram is a packet received on the shared media socket.
// Data is a private copy owned by the receiver.
type Datagram struct {
	// Data contains the raw datagram bytes.
	Data []byte
	// Source is the remote endpoint the datagram came from.
	Source Endpoint
}

// DatagramHandler is called for each received datagram on the read loop.
// Implementations must not block: anything that may suspend belongs on
// the owning session's goroutine.
type DatagramHandler func(d *Datagram)

// Sender writes datagrams to remote endpoints.
// The shared socket is written by sessions and read only by the multiplexer.
type Sender interface {
	Send(data []byte, to Endpoint) error
}
