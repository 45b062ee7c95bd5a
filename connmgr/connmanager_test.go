// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2019-2020 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/umbranet/umbrad/hosts"
)

func init() {
	// Override the max retry duration and the recent attempt window when
	// running tests.
	maxRetryDuration = 2 * time.Millisecond
	recentAttemptWindow = time.Millisecond
}

// runConnMgrAsync invokes the Run method on the passed connection manager in a
// separate goroutine and returns a cancelable context and wait group the caller
// can use to shutdown the the connection manager and wait for clean shutdown.
func runConnMgrAsync(ctx context.Context, cmgr *ConnManager) (context.Context, context.CancelFunc, *sync.WaitGroup) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		cmgr.Run(ctx)
		wg.Done()
	}()
	return ctx, cancel, &wg
}

// mockAddr mocks a network address
type mockAddr struct {
	net, address string
}

func (m mockAddr) Network() string { return m.net }
func (m mockAddr) String() string  { return m.address }

// mockConn mocks a network connection by implementing the net.Conn interface.
type mockConn struct {
	io.Reader
	io.Writer
	io.Closer

	// local network, address for the connection.
	lnet, laddr string

	// remote network, address for the connection.
	rAddr net.Addr
}

// LocalAddr returns the local address for the connection.
func (c mockConn) LocalAddr() net.Addr {
	return &mockAddr{c.lnet, c.laddr}
}

// RemoteAddr returns the remote address for the connection.
func (c mockConn) RemoteAddr() net.Addr {
	return &mockAddr{c.rAddr.Network(), c.rAddr.String()}
}

// Close handles closing the connection.
func (c mockConn) Close() error {
	return nil
}

func (c mockConn) SetDeadline(t time.Time) error      { return nil }
func (c mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c mockConn) SetWriteDeadline(t time.Time) error { return nil }

// mockDialer mocks the transport dialer by returning a mock connection to the
// given address.
func mockDialer(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
	r, w := io.Pipe()
	c := &mockConn{rAddr: addr}
	c.Reader = r
	c.Writer = w
	return c, nil
}

// newTestHosts returns a localnet hosts instance populated with the passed
// number of loopback tcp addresses.
func newTestHosts(numAddrs int) *hosts.Hosts {
	h := hosts.New(&hosts.Settings{
		Localnet:        true,
		QuarantineLimit: hosts.DefaultQuarantineLimit,
	})
	addrs := make([]hosts.PeerAddress, 0, numAddrs)
	for i := 0; i < numAddrs; i++ {
		addrs = append(addrs, hosts.NewPeerAddress(hosts.SchemeTCP,
			"127.0.0.1", uint16(18555+i)))
	}
	h.Store(addrs)
	return h
}

// permanentReq returns a permanent connection request to a loopback address.
func permanentReq() *ConnReq {
	return &ConnReq{
		Addr:      hosts.NewPeerAddress(hosts.SchemeTCP, "127.0.0.1", 18555),
		Permanent: true,
	}
}

// outboundReq returns a non-permanent connection request to a loopback
// address.
func outboundReq() *ConnReq {
	return &ConnReq{
		Addr: hosts.NewPeerAddress(hosts.SchemeTCP, "127.0.0.1", 18555),
	}
}

// waitFor polls the passed condition until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestNewConfig tests that new ConnManager config is validated as expected.
func TestNewConfig(t *testing.T) {
	_, err := New(&Config{Source: newTestHosts(0)})
	if !errors.Is(err, ErrDialNil) {
		t.Fatalf("New: mismatched error -- got %v, want %v", err, ErrDialNil)
	}

	_, err = New(&Config{Dial: mockDialer})
	if !errors.Is(err, ErrSourceNil) {
		t.Fatalf("New: mismatched error -- got %v, want %v", err,
			ErrSourceNil)
	}

	cmgr, err := New(&Config{Source: newTestHosts(0), Dial: mockDialer})
	if err != nil {
		t.Fatalf("New unexpected error: %v", err)
	}
	if cmgr.cfg.TargetOutbound != defaultTargetOutbound {
		t.Fatalf("unexpected default target outbound -- got %d, want %d",
			cmgr.cfg.TargetOutbound, defaultTargetOutbound)
	}
	if cmgr.cfg.RetryDuration != defaultRetryDuration {
		t.Fatalf("unexpected default retry duration -- got %v, want %v",
			cmgr.cfg.RetryDuration, defaultRetryDuration)
	}
	if len(cmgr.cfg.Schemes) != len(hosts.SupportedSchemes()) {
		t.Fatalf("unexpected default schemes -- got %v, want %v",
			cmgr.cfg.Schemes, hosts.SupportedSchemes())
	}
}

// assertConnReqID ensures the provided connection request has the given ID.
func assertConnReqID(t *testing.T, connReq *ConnReq, wantID uint64) {
	t.Helper()

	gotID := connReq.ID()
	if gotID != wantID {
		t.Fatalf("unexpected ID -- got %v, want %v", gotID, wantID)
	}
}

// assertConnReqState ensures the provided connection request has the given
// state.
func assertConnReqState(t *testing.T, connReq *ConnReq, wantState ConnState) {
	t.Helper()

	gotState := connReq.State()
	if gotState != wantState {
		t.Fatalf("unexpected state -- got %v, want %v", gotState, wantState)
	}
}

// TestConnReqString ensures connection requests are printed with their
// address when they have one.
func TestConnReqString(t *testing.T) {
	cr := &ConnReq{}
	if got := cr.String(); got != "reqid 0" {
		t.Fatalf("unexpected string -- got %q", got)
	}
	cr = permanentReq()
	cr.id.Store(7)
	if got, want := cr.String(), "tcp://127.0.0.1:18555 (reqid 7)"; got != want {
		t.Fatalf("unexpected string -- got %q, want %q", got, want)
	}
	if got := ConnState(42).String(); got != "Unknown ConnState (42)" {
		t.Fatalf("unexpected state string -- got %q", got)
	}
}

// TestConnectPermanent tests that permanent connection requests made with
// Connect are handled and that no other connections are made while the
// address source is empty.
func TestConnectPermanent(t *testing.T) {
	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         newTestHosts(0),
		TargetOutbound: 2,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)

	// Ensure that the connection was received.
	select {
	case gotConnReq := <-connected:
		assertConnReqID(t, gotConnReq, cr.ID())
		assertConnReqState(t, cr, ConnEstablished)

	case <-time.After(time.Second):
		t.Fatalf("connect: connection timeout - %v", cr.Addr)
	}

	// Ensure only a single connection was made.
	select {
	case c := <-connected:
		t.Fatalf("connect: got unexpected connection - %v", c.Addr)
	case <-time.After(time.Millisecond * 20):
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestTargetOutbound tests the target number of outbound connections
// configuration option by waiting until all connections are established and
// ensuring they are the only connections made.  It also ensures connected
// addresses are distinct and removed from the address source.
func TestTargetOutbound(t *testing.T) {
	const numAddrs = 15
	targetOutbound := uint32(10)
	source := newTestHosts(numAddrs)
	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: targetOutbound,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Wait for the expected number of target outbound conns to be established.
	seen := make(map[hosts.PeerAddress]struct{})
	for i := uint32(0); i < targetOutbound; i++ {
		select {
		case c := <-connected:
			if _, ok := seen[c.Addr]; ok {
				t.Fatalf("target outbound: duplicate connection to %v",
					c.Addr)
			}
			seen[c.Addr] = struct{}{}
			if source.Contains(c.Addr) {
				t.Fatalf("target outbound: connected address %v is still "+
					"a candidate", c.Addr)
			}
		case <-time.After(time.Second):
			t.Fatalf("target outbound: timeout waiting for connection %d", i)
		}
	}

	// Ensure no additional connections are made.
	select {
	case c := <-connected:
		t.Fatalf("target outbound: got unexpected connection - %v", c.Addr)
	case <-time.After(time.Millisecond * 20):
	}

	if got := source.Len(); got != numAddrs-int(targetOutbound) {
		t.Fatalf("target outbound: unexpected number of candidates -- got "+
			"%d, want %d", got, numAddrs-int(targetOutbound))
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestWaitForStore ensures idle outbound slots are woken up by newly stored
// addresses instead of waiting for the retry duration.
func TestWaitForStore(t *testing.T) {
	source := newTestHosts(0)
	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: 1,
		RetryDuration:  time.Hour,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Give the outbound slot a chance to find the source empty.
	time.Sleep(time.Millisecond * 20)

	addr := hosts.NewPeerAddress(hosts.SchemeTCP, "127.0.0.1", 28880)
	source.Store([]hosts.PeerAddress{addr})

	select {
	case c := <-connected:
		if c.Addr != addr {
			t.Fatalf("connected to %v, want %v", c.Addr, addr)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound slot was not woken up by the stored address")
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestFailedDialQuarantines ensures addresses which fail to connect are
// quarantined in the address source and eventually rejected.
func TestFailedDialQuarantines(t *testing.T) {
	const quarantineLimit = 3
	source := hosts.New(&hosts.Settings{
		Localnet:        true,
		QuarantineLimit: quarantineLimit,
	})
	good := hosts.NewPeerAddress(hosts.SchemeTCP, "8.8.8.8", 28880)
	bad := hosts.NewPeerAddress(hosts.SchemeTCP, "dark.fi", 28880)

	// The tls address is never selected since only tcp is enabled below.
	// It keeps the stored set non-empty so failed tcp addresses are
	// selected again through the quarantine fallback.
	filler := hosts.NewPeerAddress(hosts.SchemeTCPTLS, "8.8.4.4", 28880)
	source.Store([]hosts.PeerAddress{good, bad, filler})

	var badDials atomic.Uint32
	dialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		if addr == bad {
			badDials.Add(1)
			return nil, errors.New("connection refused")
		}
		return mockDialer(ctx, addr)
	}

	connected := make(chan *ConnReq, 1)
	cmgr, err := New(&Config{
		Source:         source,
		Schemes:        []string{hosts.SchemeTCP},
		TargetOutbound: 2,
		RetryDuration:  time.Millisecond,
		Dial:           dialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	select {
	case c := <-connected:
		if c.Addr != good {
			t.Fatalf("connected to %v, want %v", c.Addr, good)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection")
	}

	// The bad address keeps being retried through the quarantine fallback
	// until it exhausts its retries.
	waitFor(t, 5*time.Second, "rejection of failing address", func() bool {
		return source.IsRejected(bad)
	})
	if source.Contains(bad) || source.IsQuarantined(bad) {
		t.Fatal("rejected address is still known")
	}
	if got := badDials.Load(); got < quarantineLimit {
		t.Fatalf("unexpected number of dials -- got %d, want >= %d", got,
			quarantineLimit)
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestDisconnectRestoresAddress ensures the address of a removed automatic
// connection becomes a candidate again.
func TestDisconnectRestoresAddress(t *testing.T) {
	source := newTestHosts(1)
	connected := make(chan *ConnReq)
	disconnected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: 1,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
		OnDisconnection: func(c *ConnReq) {
			disconnected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	var cr *ConnReq
	select {
	case cr = <-connected:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection")
	}
	if !source.IsEmpty() {
		t.Fatal("connected address is still a candidate")
	}

	cmgr.Remove(cr.ID())
	select {
	case gotConnReq := <-disconnected:
		assertConnReqID(t, gotConnReq, cr.ID())
		assertConnReqState(t, cr, ConnDisconnected)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for disconnection")
	}
	if !source.Contains(cr.Addr) {
		t.Fatal("disconnected address was not restored")
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestRetryPermanent tests that permanent connection requests are retried.
//
// We make a permanent connection request using Connect, disconnect it using
// Disconnect and we wait for it to be connected back.
func TestRetryPermanent(t *testing.T) {
	connected := make(chan *ConnReq)
	disconnected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         newTestHosts(0),
		RetryDuration:  time.Millisecond * 50,
		TargetOutbound: 1,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
		OnDisconnection: func(c *ConnReq) {
			disconnected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)
	gotConnReq := <-connected
	assertConnReqID(t, gotConnReq, cr.ID())
	assertConnReqState(t, cr, ConnEstablished)

	cmgr.Disconnect(cr.ID())
	gotConnReq = <-disconnected
	assertConnReqID(t, gotConnReq, cr.ID())
	assertConnReqState(t, cr, ConnPending)

	gotConnReq = <-connected
	assertConnReqID(t, gotConnReq, cr.ID())
	assertConnReqState(t, cr, ConnEstablished)

	cmgr.Remove(cr.ID())
	gotConnReq = <-disconnected
	assertConnReqID(t, gotConnReq, cr.ID())
	assertConnReqState(t, cr, ConnDisconnected)

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestMaxRetryDuration tests the maximum retry duration.
//
// We have a timed dialer which initially returns err but after RetryDuration
// hits maxRetryDuration returns a mock conn.
func TestMaxRetryDuration(t *testing.T) {
	// This test relies on the current value of the max retry duration defined
	// in the tests, so assert it.
	if maxRetryDuration != 2*time.Millisecond {
		t.Fatalf("max retry duration of %v is not the required value for test",
			maxRetryDuration)
	}

	networkUp := make(chan struct{})
	time.AfterFunc(5*time.Millisecond, func() {
		close(networkUp)
	})
	timedDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		select {
		case <-networkUp:
			return mockDialer(ctx, addr)
		default:
			return nil, errors.New("network down")
		}
	}

	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         newTestHosts(0),
		RetryDuration:  time.Millisecond,
		TargetOutbound: 1,
		Dial:           timedDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)
	// retry in 1ms
	// retry in 2ms - max retry duration reached
	// retry in 2ms - timedDialer returns mockDial
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("max retry duration: connection timeout")
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestNetworkFailure tests that the connection manager handles a network
// failure gracefully.
func TestNetworkFailure(t *testing.T) {
	var closeOnce sync.Once
	const targetOutbound = 5
	const retryTimeout = time.Millisecond * 5
	var dials atomic.Uint32
	reachedMaxFailedAttempts := make(chan struct{})
	connMgrDone := make(chan struct{})
	errDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		totalDials := dials.Add(1)
		if totalDials >= maxFailedAttempts {
			closeOnce.Do(func() { close(reachedMaxFailedAttempts) })
			<-connMgrDone
		}
		return nil, errors.New("network down")
	}

	// Quarantine never escalates, so the failing addresses remain
	// available through the quarantine fallback.
	source := hosts.New(&hosts.Settings{Localnet: true})
	var addrs []hosts.PeerAddress
	for i := 0; i < 2*maxFailedAttempts; i++ {
		addrs = append(addrs, hosts.NewPeerAddress(hosts.SchemeTCP,
			fmt.Sprintf("peer%d.dark.fi", i), 28880))
	}
	source.Store(addrs)

	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: targetOutbound,
		RetryDuration:  retryTimeout,
		Dial:           errDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			t.Errorf("network failure: got unexpected connection - %v", c.Addr)
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Shutdown the connection manager after the max failed attempts is reached
	// and an additional retry duration has passed and then wait for the
	// shutdown to complete.
	select {
	case <-reachedMaxFailedAttempts:
	case <-time.After(5 * time.Second):
		t.Fatal("network failure: timeout waiting for failed attempts")
	}
	time.Sleep(retryTimeout)
	shutdown()
	close(connMgrDone)
	wg.Wait()

	// Ensure the number of dial attempts does not exceed the max number of
	// failed attempts plus the number of potential retries during the
	// additional waiting period.
	gotDials := dials.Load()
	wantMaxDials := uint32(maxFailedAttempts + targetOutbound)
	if gotDials > wantMaxDials {
		t.Fatalf("unexpected number of dials - got %v, want <= %v", gotDials,
			wantMaxDials)
	}
}

// TestShutdownFailedConns tests that failed connections are ignored after
// connmgr is shutdown.
//
// We have a dialer which sets the stop flag on the conn manager and returns an
// err so that the handler assumes that the conn manager is stopped and ignores
// the failure.
func TestShutdownFailedConns(t *testing.T) {
	var closeOnce sync.Once
	dialed := make(chan struct{})
	waitDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		closeOnce.Do(func() { close(dialed) })
		return nil, errors.New("network down")
	}
	cmgr, err := New(&Config{
		Source:        newTestHosts(0),
		RetryDuration: maxRetryDuration,
		Dial:          waitDialer,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Shutdown the connection manager during the retry timeout after a failed
	// dial attempt.
	go func() {
		<-dialed
		time.Sleep(maxRetryDuration / 2)
		shutdown()
	}()

	go cmgr.Connect(ctx, permanentReq())

	// Ensure clean shutdown of connection manager.
	wg.Wait()
}

// TestRemovePendingConnection tests that it's possible to cancel a pending
// connection, removing its internal state from the ConnMgr.
func TestRemovePendingConnection(t *testing.T) {
	// Create a ConnMgr instance with an instance of a dialer that'll never
	// succeed.
	dialed := make(chan struct{})
	wait := make(chan struct{})
	indefiniteDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		close(dialed)
		<-wait
		return nil, errors.New("error")
	}
	cmgr, err := New(&Config{
		Source: newTestHosts(0),
		Dial:   indefiniteDialer,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)

	// Wait for the connection manager to attempt to dial the connection request
	// and ensure the connection is marked as pending while the dialer is
	// blocked.
	select {
	case <-dialed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dial")
	}
	assertConnReqState(t, cr, ConnPending)

	// The request launched above will never be able to establish a connection,
	// so cancel it _before_ it's able to be completed.
	cmgr.Remove(cr.ID())

	// Ensure the connection request is now marked as canceled after a short
	// timeout to allow the transition to occur.
	time.Sleep(10 * time.Millisecond)
	assertConnReqState(t, cr, ConnCanceled)

	// Ensure clean shutdown of connection manager.
	close(wait)
	shutdown()
	wg.Wait()
}

// TestCancelPending ensures a pending connection can be canceled by address
// and that canceling an unknown address fails.
func TestCancelPending(t *testing.T) {
	dialed := make(chan struct{})
	wait := make(chan struct{})
	indefiniteDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		close(dialed)
		<-wait
		return nil, errors.New("error")
	}
	cmgr, err := New(&Config{
		Source: newTestHosts(0),
		Dial:   indefiniteDialer,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)
	select {
	case <-dialed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dial")
	}

	unknown := hosts.NewPeerAddress(hosts.SchemeTCP, "127.0.0.1", 1)
	if err := cmgr.CancelPending(unknown); !errors.Is(err, ErrNoPendingConn) {
		t.Fatalf("mismatched error -- got %v, want %v", err,
			ErrNoPendingConn)
	}
	if err := cmgr.CancelPending(cr.Addr); err != nil {
		t.Fatalf("unexpected error canceling pending connection: %v", err)
	}
	assertConnReqState(t, cr, ConnCanceled)

	close(wait)
	shutdown()
	wg.Wait()

	if err := cmgr.CancelPending(cr.Addr); !errors.Is(err, ErrStopped) {
		t.Fatalf("mismatched error -- got %v, want %v", err, ErrStopped)
	}
}

// TestCancelIgnoreDelayedConnection tests that a canceled connection request
// will not execute the on connection callback, even if an outstanding retry
// succeeds.
func TestCancelIgnoreDelayedConnection(t *testing.T) {
	const retryTimeout = 10 * time.Millisecond

	// Setup a dialer that will continue to return an error until the
	// connect chan is signaled. The dial attempt immediately after that
	// will succeed in returning a connection.
	connect := make(chan struct{})
	failingDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		select {
		case <-connect:
			return mockDialer(ctx, addr)
		default:
		}

		return nil, errors.New("error")
	}

	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:        newTestHosts(0),
		Dial:          failingDialer,
		RetryDuration: retryTimeout,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := permanentReq()
	go cmgr.Connect(ctx, cr)

	// Allow for the first retry timeout to elapse.
	time.Sleep(2 * retryTimeout)

	// Ensure the status of the connection request is marked as failed, even
	// after reattempting to connect.
	assertConnReqState(t, cr, ConnFailed)

	// Remove the connection, and then immediately allow the next connection
	// to succeed.
	cmgr.Remove(cr.ID())
	close(connect)

	// Allow the connection manager to process the removal.
	time.Sleep(5 * time.Millisecond)

	// Ensure the status of the connection request is canceled.
	assertConnReqState(t, cr, ConnCanceled)

	// Finally, the connection manager should not signal the OnConnection
	// callback, since the request was explicitly canceled.  Give a generous
	// timeout window to ensure the connection manager's linear backoff is
	// allowed to properly elapse.
	select {
	case <-connected:
		t.Fatal("on-connect should not be called for canceled req")
	case <-time.After(5 * retryTimeout):
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestDialTimeout ensure the Timeout configuration parameter works as intended
// by creating a dialer that blocks for twice the configured dial timeout before
// connecting and ensuring the connection fails as expected.
func TestDialTimeout(t *testing.T) {
	// Create a connection manager instance with a dialer that blocks for twice
	// the configured dial timeout before connecting.
	const dialTimeout = time.Millisecond * 2
	timeoutDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		select {
		case <-time.After(dialTimeout * 2):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return mockDialer(ctx, addr)
	}
	cmgr, err := New(&Config{
		Source:        newTestHosts(0),
		Dial:          timeoutDialer,
		Timeout:       dialTimeout,
		RetryDuration: time.Hour,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	cr := outboundReq()
	go cmgr.Connect(context.Background(), cr)

	// Wait for the dial timeout to elapse and ensure the connection request is
	// marked as failed after a short timeout to allow the transition to occur.
	time.Sleep(dialTimeout)
	time.Sleep(10 * time.Millisecond)
	assertConnReqState(t, cr, ConnFailed)

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestConnectContext ensures the Connect method works as intended when provided
// with a context that times out before a dial attempt succeeds.
func TestConnectContext(t *testing.T) {
	// Create a connection manager instance with a dialer that blocks until its
	// provided context is canceled.
	dialed := make(chan struct{})
	indefiniteDialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		close(dialed)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cmgr, err := New(&Config{
		Source: newTestHosts(0),
		Dial:   indefiniteDialer,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Establish a connection request with a separate context that can be
	// canceled.
	cr := outboundReq()
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	go cmgr.Connect(connectCtx, cr)

	// Wait for the connection manager to attempt to dial the connection request
	// and ensure the connection is marked as pending while the dialer is
	// blocked.
	select {
	case <-dialed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dial")
	}
	assertConnReqState(t, cr, ConnPending)

	// Cancel the connection context and ensure the connection request is marked
	// as failed after a short timeout to allow the transition to occur.
	cancelConnect()
	time.Sleep(10 * time.Millisecond)
	assertConnReqState(t, cr, ConnFailed)

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestOutboundGroups ensures automatic connections are spread across distinct
// network groups and that a group becomes available again once its connection
// is disconnected.
func TestOutboundGroups(t *testing.T) {
	source := hosts.New(&hosts.Settings{})
	sameGroupA := hosts.NewPeerAddress(hosts.SchemeTCP, "8.8.8.8", 28880)
	sameGroupB := hosts.NewPeerAddress(hosts.SchemeTCP, "8.8.4.4", 28880)
	otherGroup := hosts.NewPeerAddress(hosts.SchemeTCP, "1.1.1.1", 28880)
	source.Store([]hosts.PeerAddress{sameGroupA, sameGroupB, otherGroup})
	if source.Len() != 3 {
		t.Fatalf("unexpected number of stored addresses %d", source.Len())
	}

	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: 3,
		RetryDuration:  time.Hour,
		Dial:           mockDialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	// Only one address of the 8.8.0.0/16 group may be connected.
	var grouped *ConnReq
	var sawOther bool
	for i := 0; i < 2; i++ {
		select {
		case c := <-connected:
			switch c.Addr {
			case otherGroup:
				sawOther = true
			case sameGroupA, sameGroupB:
				if grouped != nil {
					t.Fatalf("connected to %v and %v in the same group",
						grouped.Addr, c.Addr)
				}
				grouped = c
			default:
				t.Fatalf("connected to unexpected address %v", c.Addr)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for connection %d", i)
		}
	}
	if grouped == nil || !sawOther {
		t.Fatal("did not connect to both groups")
	}
	select {
	case c := <-connected:
		t.Fatalf("got unexpected connection to %v", c.Addr)
	case <-time.After(time.Millisecond * 20):
	}

	// Disconnecting the grouped connection frees the group for the other
	// address of the group.  The disconnected address itself was attempted
	// recently, so it is not selected again.
	wantNext := sameGroupB
	if grouped.Addr == sameGroupB {
		wantNext = sameGroupA
	}
	cmgr.Disconnect(grouped.ID())
	select {
	case c := <-connected:
		if c.Addr != wantNext {
			t.Fatalf("connected to %v, want %v", c.Addr, wantNext)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection to the freed group")
	}

	// Ensure clean shutdown of connection manager.
	shutdown()
	wg.Wait()
}

// TestCancelPendingReplaces ensures canceling a pending automatic connection
// request selects a replacement candidate so the target is still pursued.
func TestCancelPendingReplaces(t *testing.T) {
	source := newTestHosts(2)
	var blocked atomic.Bool
	dialed := make(chan hosts.PeerAddress, 1)
	wait := make(chan struct{})
	dialer := func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
		if blocked.CompareAndSwap(false, true) {
			dialed <- addr
			<-wait
			return nil, errors.New("error")
		}
		return mockDialer(ctx, addr)
	}

	connected := make(chan *ConnReq)
	cmgr, err := New(&Config{
		Source:         source,
		TargetOutbound: 1,
		RetryDuration:  time.Hour,
		Dial:           dialer,
		OnConnection: func(c *ConnReq, conn net.Conn) {
			connected <- c
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, shutdown, wg := runConnMgrAsync(context.Background(), cmgr)

	var pendingAddr hosts.PeerAddress
	select {
	case pendingAddr = <-dialed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dial")
	}
	if err := cmgr.CancelPending(pendingAddr); err != nil {
		t.Fatalf("unexpected error canceling pending connection: %v", err)
	}

	select {
	case c := <-connected:
		if c.Addr == pendingAddr {
			t.Fatalf("reconnected to canceled address %v", c.Addr)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled outbound slot was not replaced")
	}

	// Ensure clean shutdown of connection manager.
	close(wait)
	shutdown()
	wg.Wait()
}
