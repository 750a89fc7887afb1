package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
)

func TestNewUDP(t *testing.T) {
	t.Run("with handler", func(t *testing.T) {
		u, err := NewUDP(UDPConfig{
			ListenAddr:      "127.0.0.1:0",
			DatagramHandler: func(d *Datagram) {},
		})
		if err != nil {
			t.Fatalf("NewUDP() error = %v", err)
		}
		defer u.Stop()

		if u.conn == nil {
			t.Error("NewUDP() conn is nil")
		}
	})

	t.Run("without handler", func(t *testing.T) {
		_, err := NewUDP(UDPConfig{
			ListenAddr: "127.0.0.1:0",
		})
		if err != ErrNoHandler {
			t.Errorf("NewUDP() error = %v, want %v", err, ErrNoHandler)
		}
	})

	t.Run("with injected conn", func(t *testing.T) {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("ListenPacket() error = %v", err)
		}

		u, err := NewUDP(UDPConfig{
			Conn:            conn,
			DatagramHandler: func(d *Datagram) {},
		})
		if err != nil {
			t.Fatalf("NewUDP() error = %v", err)
		}
		defer u.Stop()

		if u.conn != conn {
			t.Error("NewUDP() did not use injected conn")
		}
	})
}

func TestUDPStartStop(t *testing.T) {
	defer test.CheckRoutines(t)()

	u, err := NewUDP(UDPConfig{
		ListenAddr:      "127.0.0.1:0",
		DatagramHandler: func(d *Datagram) {},
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}

	if err := u.Start(); err != nil {
		t.Errorf("Start() error = %v", err)
	}

	if err := u.Start(); err != ErrAlreadyStarted {
		t.Errorf("Start() second call error = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := u.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if err := u.Stop(); err != ErrClosed {
		t.Errorf("Stop() second call error = %v, want %v", err, ErrClosed)
	}
}

func TestUDPSend(t *testing.T) {
	t.Run("invalid endpoint", func(t *testing.T) {
		u, err := NewUDP(UDPConfig{
			ListenAddr:      "127.0.0.1:0",
			DatagramHandler: func(d *Datagram) {},
		})
		if err != nil {
			t.Fatalf("NewUDP() error = %v", err)
		}
		defer u.Stop()

		if err := u.Send([]byte{0x01}, Endpoint{}); err != ErrInvalidAddress {
			t.Errorf("Send() error = %v, want %v", err, ErrInvalidAddress)
		}
	})

	t.Run("message too large", func(t *testing.T) {
		u, err := NewUDP(UDPConfig{
			ListenAddr:      "127.0.0.1:0",
			DatagramHandler: func(d *Datagram) {},
		})
		if err != nil {
			t.Fatalf("NewUDP() error = %v", err)
		}
		defer u.Stop()

		to, _ := ParseEndpoint("127.0.0.1:5540")
		if err := u.Send(make([]byte, MaxDatagramSize+1), to); err != ErrMessageTooLarge {
			t.Errorf("Send() error = %v, want %v", err, ErrMessageTooLarge)
		}
	})

	t.Run("send after close", func(t *testing.T) {
		u, err := NewUDP(UDPConfig{
			ListenAddr:      "127.0.0.1:0",
			DatagramHandler: func(d *Datagram) {},
		})
		if err != nil {
			t.Fatalf("NewUDP() error = %v", err)
		}
		u.Stop()

		to, _ := ParseEndpoint("127.0.0.1:5540")
		if err := u.Send([]byte{0x01}, to); err != ErrClosed {
			t.Errorf("Send() error = %v, want %v", err, ErrClosed)
		}
	})
}

func TestUDPRoundtrip(t *testing.T) {
	received1 := make(chan *Datagram, 1)
	received2 := make(chan *Datagram, 1)

	udp1, err := NewUDP(UDPConfig{
		ListenAddr:      "127.0.0.1:0",
		DatagramHandler: func(d *Datagram) { received1 <- d },
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if err := udp1.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer udp1.Stop()

	udp2, err := NewUDP(UDPConfig{
		ListenAddr:      "127.0.0.1:0",
		DatagramHandler: func(d *Datagram) { received2 <- d },
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if err := udp2.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer udp2.Stop()

	to2, ok := EndpointFromAddr(udp2.LocalAddr())
	if !ok {
		t.Fatalf("EndpointFromAddr(%v) failed", udp2.LocalAddr())
	}

	msg1 := []byte("hello from udp1")
	if err := udp1.Send(msg1, to2); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case d := <-received2:
		if !bytes.Equal(d.Data, msg1) {
			t.Errorf("received = %s, want %s", d.Data, msg1)
		}
		from1, _ := EndpointFromAddr(udp1.LocalAddr())
		if d.Source != from1 {
			t.Errorf("Source = %v, want %v", d.Source, from1)
		}
		if err := udp2.Send([]byte("hello back"), d.Source); err != nil {
			t.Fatalf("Send() reply error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for datagram at udp2")
	}

	select {
	case d := <-received1:
		if string(d.Data) != "hello back" {
			t.Errorf("reply = %s, want hello back", d.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reply at udp1")
	}
}

func TestUDPReceiveOversized(t *testing.T) {
	received := make(chan *Datagram, 1)
	u, err := NewUDP(UDPConfig{
		ListenAddr:      "127.0.0.1:0",
		DatagramHandler: func(d *Datagram) { received <- d },
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if err := u.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer u.Stop()

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer sender.Close()

	msg := bytes.Repeat([]byte{0xA5}, 4*MaxDatagramSize)
	msg[len(msg)-1] = 0x5A
	if _, err := sender.WriteTo(msg, u.LocalAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	select {
	case d := <-received:
		if !bytes.Equal(d.Data, msg) {
			t.Errorf("received %d bytes, want %d intact", len(d.Data), len(msg))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for oversized datagram")
	}
}

func TestUDPOverPipe(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	received := make(chan *Datagram, 1)
	u, err := NewUDP(UDPConfig{
		Conn:            pipe.Conn(0),
		DatagramHandler: func(d *Datagram) { received <- d },
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if err := u.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer u.Stop()

	peer := pipe.Conn(1)
	if _, err := peer.WriteTo([]byte{0x00, 0x01}, pipe.Conn(0).LocalAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	select {
	case d := <-received:
		if d.Source != peer.LocalEndpoint() {
			t.Errorf("Source = %v, want %v", d.Source, peer.LocalEndpoint())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for datagram over pipe")
	}
}

func TestUDPLocalAddr(t *testing.T) {
	u, err := NewUDP(UDPConfig{
		ListenAddr:      "127.0.0.1:0",
		DatagramHandler: func(d *Datagram) {},
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	defer u.Stop()

	udpAddr, ok := u.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("LocalAddr() type = %T, want *net.UDPAddr", u.LocalAddr())
	}
	if udpAddr.Port == 0 {
		t.Error("LocalAddr() port = 0, want ephemeral port")
	}
}
