package transport

import (
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenBoth(t *testing.T) {
	tcp := NewTCPListener()
	udp := NewUDPSocket()
	defer tcp.Close()
	defer udp.Close()

	port, err := ListenBoth(tcp, udp, 8)
	require.NoError(t, err)
	assert.NotZero(t, port)
	assert.Equal(t, port, tcp.Port())
	assert.Equal(t, port, udp.Port())
}

func TestListenBothNonRetryableError(t *testing.T) {
	tcp := NewTCPListener()
	udp := NewUDPSocket()
	require.NoError(t, udp.Close())
	defer tcp.Close()

	_, err := ListenBoth(tcp, udp, 8)
	assert.ErrorIs(t, err, ErrSocketClosed)
	assert.Nil(t, tcp.Addr(), "tcp socket is released on failure")
}

func TestIsAddrInUse(t *testing.T) {
	first, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer first.Close()

	port := first.LocalAddr().(*net.UDPAddr).Port

	s := NewUDPSocket()
	defer s.Close()

	err = s.Bind(port)
	require.Error(t, err)
	assert.True(t, IsAddrInUse(err))
	assert.False(t, IsAddrInUse(ErrSocketClosed))
}

type fakeStreamBinder struct {
	next   int
	port   int
	binds  int
	closes int
}

func (f *fakeStreamBinder) Listen(port int) error {
	f.binds++
	f.next++
	f.port = 40000 + f.next
	return nil
}

func (f *fakeStreamBinder) Port() int { return f.port }

func (f *fakeStreamBinder) Close() error {
	f.closes++
	f.port = 0
	return nil
}

// busyDatagramBinder reports the port as taken for the first busy binds.
type busyDatagramBinder struct {
	busy  int
	ports []int
}

func (f *busyDatagramBinder) Listen(port int) error {
	f.ports = append(f.ports, port)
	if len(f.ports) <= f.busy {
		return newNetError("listen", fmt.Sprintf("udp :%d", port), syscall.EADDRINUSE)
	}
	return nil
}

func TestListenBothRetriesAddrInUse(t *testing.T) {
	tcp := &fakeStreamBinder{}
	udp := &busyDatagramBinder{busy: 3}

	port, err := ListenBoth(tcp, udp, 8)
	require.NoError(t, err)

	assert.Equal(t, 4, tcp.binds)
	assert.Equal(t, 3, tcp.closes, "tcp is released after every busy udp bind")
	assert.Equal(t, []int{40001, 40002, 40003, 40004}, udp.ports)
	assert.Equal(t, 40004, port)
	assert.Equal(t, port, tcp.Port())
}

func TestListenBothRetriesExhausted(t *testing.T) {
	tcp := &fakeStreamBinder{}
	udp := &busyDatagramBinder{busy: 100}

	_, err := ListenBoth(tcp, udp, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBindRetriesExhausted)
	assert.True(t, IsAddrInUse(err), "the last bind error is kept")

	assert.Equal(t, 5, tcp.binds)
	assert.Equal(t, 5, tcp.closes)
	assert.Len(t, udp.ports, 5)
	assert.Zero(t, tcp.Port())
}
