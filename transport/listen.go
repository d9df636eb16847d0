package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// StreamBinder is the reliable-stream half of a dual bind. *TCPListener
// satisfies it.
type StreamBinder interface {
	Listen(port int) error
	Port() int
	Close() error
}

// DatagramBinder is the UDP half of a dual bind. *UDPSocket satisfies it.
type DatagramBinder interface {
	Listen(port int) error
}

// ListenBoth binds tcp to an OS-chosen port and then binds udp to the same
// port. If the UDP port is already taken, the TCP socket is released and
// the pair is tried again, at most maxRetries times.
//
// On success both sockets are bound but not serving.
func ListenBoth(tcp StreamBinder, udp DatagramBinder, maxRetries int) (int, error) {
	for attempt := 1; ; attempt++ {
		if err := tcp.Listen(0); err != nil {
			return 0, err
		}

		port := tcp.Port()
		err := udp.Listen(port)
		if err == nil {
			return port, nil
		}

		tcp.Close()

		if !IsAddrInUse(err) {
			return 0, err
		}
		if attempt >= maxRetries {
			return 0, fmt.Errorf("%w: %w", ErrBindRetriesExhausted, err)
		}

		logrus.WithFields(logrus.Fields{
			"port":    port,
			"attempt": attempt,
		}).Debug("UDP port in use, retrying bind")
	}
}
