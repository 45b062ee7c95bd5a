// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2017-2020 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/umbranet/umbrad/hosts"
)

var (
	// maxRetryDuration is the max duration of time retrying of a persistent
	// connection is allowed to grow to.  This is necessary since the retry
	// logic uses a backoff mechanism which increases the interval base times
	// the number of retries that have been done.
	maxRetryDuration = time.Minute * 5

	// recentAttemptWindow is the duration an address that was attempted is
	// skipped by the outbound selection.
	recentAttemptWindow = time.Minute
)

const (
	// maxFailedAttempts is the maximum number of successive failed connection
	// attempts after which network failure is assumed and new connections will
	// be delayed by the configured retry duration.
	maxFailedAttempts = 25

	// defaultRetryDuration is the default duration of time for retrying
	// persistent connections.
	defaultRetryDuration = time.Second * 5

	// defaultTargetOutbound is the default number of outbound connections to
	// maintain.
	defaultTargetOutbound = uint32(8)

	// candidatesPerSelection is the number of random candidates requested
	// from the address source each time an outbound slot selects an address.
	candidatesPerSelection = 32

	// maxRecentAttempts is the maximum number of recently attempted addresses
	// that are tracked.
	maxRecentAttempts = 4096
)

// AddressSource is the ledger of peer addresses the connection manager
// selects outbound candidates from and reports connection outcomes to.  It is
// satisfied by *hosts.Hosts.
type AddressSource interface {
	// FetchNRandomWithSchemes returns up to n random addresses using one of
	// the provided schemes.
	FetchNRandomWithSchemes(schemes []string, n int) []hosts.PeerAddress

	// Store adds addresses back to the candidate pool.
	Store(addrs []hosts.PeerAddress)

	// Quarantine records a failed connection attempt to the address.
	Quarantine(addr hosts.PeerAddress)

	// Remove forgets the address.
	Remove(addr hosts.PeerAddress)

	// SubscribeStore returns a subscription which is notified every time
	// addresses are stored.
	SubscribeStore() *hosts.Subscription
}

// ConnState represents the state of the requested connection.
type ConnState uint32

// ConnState can be either pending, established, disconnected or failed.  When
// a new connection is requested, it is attempted and categorized as
// established or failed depending on the connection result.  An established
// connection which was disconnected is categorized as disconnected.
const (
	ConnPending ConnState = iota
	ConnEstablished
	ConnDisconnected
	ConnFailed
	ConnCanceled
)

// connStateStrings is a map of connection states back to their constant names
// for pretty printing.
var connStateStrings = map[ConnState]string{
	ConnPending:      "ConnPending",
	ConnEstablished:  "ConnEstablished",
	ConnDisconnected: "ConnDisconnected",
	ConnFailed:       "ConnFailed",
	ConnCanceled:     "ConnCanceled",
}

// String returns the ConnState as a human-readable name.
func (s ConnState) String() string {
	if str, ok := connStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown ConnState (%d)", uint32(s))
}

// ConnReq is the connection request to a peer address. If permanent, the
// connection will be retried on disconnection.
type ConnReq struct {
	// The following variables must only be used atomically.
	//
	// id is the unique identifier for this connection request.
	//
	// state is the current connection state for this connection request.
	id    atomic.Uint64
	state atomic.Uint32

	// The following fields are owned by the connection handler and must not
	// be accessed outside of it.
	//
	// retryCount is the number of times a permanent connection request that
	// fails to connect has been retried since the last successful connection.
	//
	// conn is the underlying network connection.  It will be nil before a
	// connection has been established.
	retryCount uint32
	conn       net.Conn

	// Addr is the address to connect to.
	Addr hosts.PeerAddress

	// Permanent specifies whether or not the connection request represents what
	// should be treated as a permanent connection, meaning the connection
	// manager will try to always maintain the connection including retries with
	// increasing backoff timeouts.  Permanent peers are not drawn from the
	// address source and their failures are never reported to it.
	Permanent bool
}

// updateState updates the state of the connection request.
func (c *ConnReq) updateState(state ConnState) {
	c.state.Store(uint32(state))
}

// ID returns a unique identifier for the connection request.
func (c *ConnReq) ID() uint64 {
	return c.id.Load()
}

// State is the connection state of the requested connection.
func (c *ConnReq) State() ConnState {
	return ConnState(c.state.Load())
}

// String returns a human-readable string for the connection request.
func (c *ConnReq) String() string {
	if c.Addr.Host == "" {
		return fmt.Sprintf("reqid %d", c.id.Load())
	}
	return fmt.Sprintf("%s (reqid %d)", c.Addr, c.id.Load())
}

// Config holds the configuration options related to the connection manager.
type Config struct {
	// Source is the address ledger outbound candidates are selected from.
	// Failed attempts are quarantined in it and established connections are
	// removed from it until they disconnect.
	Source AddressSource

	// Schemes are the transport schemes outbound candidates may use.
	// Defaults to every scheme supported by the hosts package.
	Schemes []string

	// TargetOutbound is the number of outbound network connections to
	// maintain. Defaults to 8.
	TargetOutbound uint32

	// RetryDuration is the duration to wait before retrying connection
	// requests.  It also bounds how long an idle outbound slot waits for new
	// addresses before selecting again. Defaults to 5s.
	RetryDuration time.Duration

	// OnConnection is a callback that is fired when a new outbound
	// connection is established.
	OnConnection func(*ConnReq, net.Conn)

	// OnDisconnection is a callback that is fired when an outbound
	// connection is disconnected.
	OnDisconnection func(*ConnReq)

	// Dial connects to the passed peer address.
	Dial func(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error)

	// Timeout specifies the amount of time to wait for a connection
	// to complete before giving up.
	Timeout time.Duration
}

// registerPending is used to register a pending connection attempt. By
// registering pending connection attempts we allow callers to cancel pending
// connection attempts before they're successful or in the case they're no
// longer wanted.
type registerPending struct {
	c    *ConnReq
	done chan struct{}
}

// handleConnected is used to queue a successful connection.
type handleConnected struct {
	c    *ConnReq
	conn net.Conn
}

// handleDisconnected is used to remove a connection.
type handleDisconnected struct {
	id    uint64
	retry bool
}

// handleFailed is used to remove a pending connection.
type handleFailed struct {
	c   *ConnReq
	err error
}

// handleCancelPending is used to remove failing connections from retries.
type handleCancelPending struct {
	addr hosts.PeerAddress
	done chan error
}

// ConnManager provides a manager to handle outbound network connections to
// the peers of an address ledger.
type ConnManager struct {
	// connReqCount is the number of connection requests that have been made and
	// is primarily used to assign unique connection request IDs.
	connReqCount atomic.Uint64

	// The following fields are used for lifecycle management of the connection
	// manager.
	wg   sync.WaitGroup
	quit chan struct{}

	// cfg specifies the configuration of the connection manager and is set at
	// creating time and treated as immutable after that.
	cfg Config

	// failedAttempts tracks the total number of failed oubound connection
	// attempts since the last successful connection made by the connection
	// manager.  It is primarily used to detect network outages in order to
	// impose a retry timeout on achieving the target number of outbound
	// connections which prevents runaway failed connection attempt churn.
	//
	// This field is owned by the connection handler and must not be accessed
	// outside of it.
	failedAttempts uint64

	// inUseMtx protects inUse and inUseGroups.
	inUseMtx sync.Mutex

	// inUse houses the addresses of the outbound connection requests that are
	// pending or established so they are not selected twice.
	inUse map[hosts.PeerAddress]struct{}

	// inUseGroups counts the addresses in inUse per network group so that
	// automatic connections are spread across distinct groups.
	inUseGroups map[string]int

	// recentAttempts houses the addresses selected for an outbound attempt
	// within the recent attempt window.
	recentAttempts *lru.Set[hosts.PeerAddress]

	// requests is used internally to interact with the connection handler
	// goroutine.
	requests chan interface{}
}

// claimAddress marks the passed address as in use by an outbound connection
// request.  It returns false when the address is already in use, was attempted
// within the recent attempt window, or shares its network group with another
// address in use.  Local addresses, which are only ever stored on local test
// networks, are not limited per group.
//
// This function is safe for concurrent access.
func (cm *ConnManager) claimAddress(addr hosts.PeerAddress) bool {
	cm.inUseMtx.Lock()
	defer cm.inUseMtx.Unlock()

	if _, ok := cm.inUse[addr]; ok {
		return false
	}
	group := hosts.GroupKey(addr)
	if !hosts.IsLocal(addr) && cm.inUseGroups[group] != 0 {
		return false
	}
	if cm.recentAttempts.Exists(addr) {
		return false
	}
	cm.inUse[addr] = struct{}{}
	cm.inUseGroups[group]++
	cm.recentAttempts.Put(addr)
	return true
}

// releaseAddress makes the passed address available to the outbound selection
// again.
//
// This function is safe for concurrent access.
func (cm *ConnManager) releaseAddress(addr hosts.PeerAddress) {
	cm.inUseMtx.Lock()
	defer cm.inUseMtx.Unlock()

	if _, ok := cm.inUse[addr]; !ok {
		return
	}
	delete(cm.inUse, addr)
	group := hosts.GroupKey(addr)
	if cm.inUseGroups[group]--; cm.inUseGroups[group] <= 0 {
		delete(cm.inUseGroups, group)
	}
}

// selectAddress returns a random candidate from the address source which is
// neither in use nor recently attempted.  It blocks until such a candidate is
// available, waking up whenever new addresses are stored or the retry duration
// elapses.  The boolean return value is false when the connection manager is
// shutting down.
func (cm *ConnManager) selectAddress(ctx context.Context) (hosts.PeerAddress, bool) {
	// Subscribe before fetching so addresses stored in between are not
	// missed.
	sub := cm.cfg.Source.SubscribeStore()
	defer sub.Unsubscribe()

	for {
		candidates := cm.cfg.Source.FetchNRandomWithSchemes(cm.cfg.Schemes,
			candidatesPerSelection)
		for _, addr := range candidates {
			if cm.claimAddress(addr) {
				return addr, true
			}
		}

		log.Tracef("No outbound candidates available (%d considered)",
			len(candidates))
		select {
		case n := <-sub.C():
			log.Tracef("Woken up by %d newly stored addresses", n)
		case <-time.After(cm.cfg.RetryDuration):
		case <-ctx.Done():
			return hosts.PeerAddress{}, false
		case <-cm.quit:
			return hosts.PeerAddress{}, false
		}
	}
}

// handleFailedConn handles a connection failed due to a disconnect or any
// other failure. If permanent, it retries the connection after the configured
// retry duration. Otherwise it makes a new connection request.  After
// maxFailedAttempts new connections will be retried after the configured retry
// duration.
func (cm *ConnManager) handleFailedConn(ctx context.Context, c *ConnReq) {
	// Ignore during shutdown.
	if ctx.Err() != nil {
		return
	}

	var d time.Duration
	var retry func()
	if c.Permanent {
		c.retryCount++
		d = time.Duration(c.retryCount) * cm.cfg.RetryDuration
		if d > maxRetryDuration {
			d = maxRetryDuration
		}
		log.Debugf("Retrying connection to %v in %v", c, d)
		retry = func() { cm.Connect(ctx, c) }
	} else {
		cm.failedAttempts++
		if cm.failedAttempts >= maxFailedAttempts {
			log.Debugf("Max failed connection attempts reached: [%d] "+
				"-- retrying connection in: %v", maxFailedAttempts,
				cm.cfg.RetryDuration)
			d = cm.cfg.RetryDuration
		}
		retry = func() { cm.newConnReq(ctx) }
	}

	if d == 0 {
		go retry()
		return
	}
	go func() {
		select {
		case <-time.After(d):
			retry()
		case <-cm.quit:
		}
	}()
}

// connHandler handles all connection related requests.  It must be run as a
// goroutine.
//
// The connection handler makes sure that we maintain a pool of active outbound
// connections so that we remain connected to the network.  Connection requests
// are processed and mapped by their assigned ids.
func (cm *ConnManager) connHandler(ctx context.Context) {
	var (
		// pending holds all registered conn requests that have yet to
		// succeed.
		pending = make(map[uint64]*ConnReq)

		// conns represents the set of all actively connected peers.
		conns = make(map[uint64]*ConnReq, cm.cfg.TargetOutbound)
	)

out:
	for {
		select {
		case req := <-cm.requests:
			switch msg := req.(type) {
			case registerPending:
				connReq := msg.c
				connReq.updateState(ConnPending)
				pending[connReq.ID()] = connReq
				close(msg.done)

			case handleConnected:
				connReq := msg.c
				if _, ok := pending[connReq.ID()]; !ok {
					if msg.conn != nil {
						msg.conn.Close()
					}
					log.Debugf("Ignoring connection for "+
						"canceled connreq=%v", connReq)
					continue
				}

				connReq.updateState(ConnEstablished)
				connReq.conn = msg.conn
				conns[connReq.ID()] = connReq
				log.Debugf("Connected to %v", connReq)
				connReq.retryCount = 0
				cm.failedAttempts = 0

				delete(pending, connReq.ID())

				// Connected peers are not outbound candidates until
				// they disconnect.
				if !connReq.Permanent {
					cm.cfg.Source.Remove(connReq.Addr)
				}

				if cm.cfg.OnConnection != nil {
					go cm.cfg.OnConnection(connReq, msg.conn)
				}

			case handleDisconnected:
				connReq, ok := conns[msg.id]
				if !ok {
					connReq, ok = pending[msg.id]
					if !ok {
						log.Errorf("Unknown connid=%d",
							msg.id)
						continue
					}

					// Pending connection was found, remove
					// it from pending map if we should
					// ignore a later, successful
					// connection.
					connReq.updateState(ConnCanceled)
					log.Debugf("Canceling: %v", connReq)
					delete(pending, msg.id)
					if !connReq.Permanent {
						cm.releaseAddress(connReq.Addr)
						if msg.retry {
							cm.replaceOutbound(ctx, len(conns))
						}
					}
					continue
				}

				// An existing connection was located, mark as
				// disconnected and execute disconnection
				// callback.
				log.Debugf("Disconnected from %v", connReq)
				delete(conns, msg.id)

				if connReq.conn != nil {
					connReq.conn.Close()
				}

				// The peer was reachable, so it becomes a candidate
				// again.
				if !connReq.Permanent {
					cm.releaseAddress(connReq.Addr)
					cm.cfg.Source.Store([]hosts.PeerAddress{connReq.Addr})
				}

				// All internal state has been cleaned up, if this
				// connection is being removed, we will make no further
				// attempts with this request.  Otherwise, reconnect
				// permanent peers and replace automatic connections
				// while below the target.  Permanent requests are
				// re-added to the pending map so subsequent processing
				// of connections and failures do not ignore the request.
				switch {
				case msg.retry && connReq.Permanent:
					connReq.updateState(ConnPending)
					log.Debugf("Reconnecting to %v", connReq)
					pending[msg.id] = connReq
					cm.handleFailedConn(ctx, connReq)

				case msg.retry && uint32(len(conns)) < cm.cfg.TargetOutbound:
					connReq.updateState(ConnDisconnected)
					cm.handleFailedConn(ctx, connReq)

				default:
					connReq.updateState(ConnDisconnected)
				}

				if cm.cfg.OnDisconnection != nil {
					go cm.cfg.OnDisconnection(connReq)
				}

			case handleFailed:
				connReq := msg.c
				if _, ok := pending[connReq.ID()]; !ok {
					log.Debugf("Ignoring connection for "+
						"canceled conn req: %v", connReq)
					continue
				}

				connReq.updateState(ConnFailed)
				log.Debugf("Failed to connect to %v: %v",
					connReq, msg.err)

				if !connReq.Permanent {
					delete(pending, connReq.ID())
					cm.cfg.Source.Quarantine(connReq.Addr)
					cm.releaseAddress(connReq.Addr)
				}
				cm.handleFailedConn(ctx, connReq)

			case handleCancelPending:
				var idToRemove uint64
				var connReq *ConnReq
				for id, req := range pending {
					if req == nil {
						continue
					}
					if msg.addr == req.Addr {
						idToRemove, connReq = id, req
						break
					}
				}
				if connReq != nil {
					delete(pending, idToRemove)
					connReq.updateState(ConnCanceled)
					if !connReq.Permanent {
						cm.releaseAddress(connReq.Addr)
						cm.replaceOutbound(ctx, len(conns))
					}
					log.Debugf("Canceled pending connection to %v", msg.addr)
					msg.done <- nil
				} else {
					str := fmt.Sprintf("no pending connection to %v",
						msg.addr)
					msg.done <- MakeError(ErrNoPendingConn, str)
				}
			}

		case <-ctx.Done():
			break out
		}
	}

	cm.wg.Done()
	log.Trace("Connection handler done")
}

// replaceOutbound starts selecting a new outbound candidate in place of an
// automatic connection request that was given up while pending, unless the
// passed number of established connections already reaches the target.
//
// This function MUST be called from the connection handler.
func (cm *ConnManager) replaceOutbound(ctx context.Context, numConns int) {
	if uint32(numConns) >= cm.cfg.TargetOutbound {
		return
	}
	go cm.newConnReq(ctx)
}

// register assigns an id to the passed connection request and registers it as
// pending with the connection handler.  It returns false when the connection
// manager is shutting down.
func (cm *ConnManager) register(c *ConnReq) bool {
	c.id.Store(cm.connReqCount.Add(1))

	// Submit a request of a pending connection attempt to the connection
	// manager. By registering the id before the connection is even
	// established, we'll be able to later cancel the connection via the
	// Remove method.
	done := make(chan struct{})
	select {
	case cm.requests <- registerPending{c, done}:
	case <-cm.quit:
		return false
	}

	// Wait for the registration to successfully add the pending conn req to
	// the conn manager's internal state.
	select {
	case <-done:
	case <-cm.quit:
		return false
	}
	return true
}

// newConnReq selects an outbound candidate from the address source and
// connects to it.
func (cm *ConnManager) newConnReq(ctx context.Context) {
	// Ignore during shutdown.
	if ctx.Err() != nil {
		return
	}

	addr, ok := cm.selectAddress(ctx)
	if !ok {
		return
	}

	c := &ConnReq{Addr: addr}
	if !cm.register(c) {
		cm.releaseAddress(addr)
		return
	}

	cm.Connect(ctx, c)
}

// Connect assigns an id and dials a connection to the address of the connection
// request using the provided context and the dial function configured when
// initially creating the the connection manager.
//
// The connection attempt will be ignored if the connection manager has been
// shutdown by canceling the lifecycle context the Run method was invoked with
// or the provided connection request is already in the failed state.
//
// Note that the context parameter to this function and the lifecycle context
// may be independent.
func (cm *ConnManager) Connect(ctx context.Context, c *ConnReq) {
	// Ignore during shutdown and when caller provided context is already
	// canceled.
	select {
	case <-cm.quit:
		return
	default:
	}
	if ctx.Err() != nil {
		return
	}

	// During the time we wait for retry there is a chance that this
	// connection was already cancelled.
	if c.State() == ConnCanceled {
		log.Debugf("Ignoring connect for canceled connreq=%v", c)
		return
	}

	if c.ID() == 0 && !cm.register(c) {
		return
	}

	log.Debugf("Attempting to connect to %v", c)

	if cm.cfg.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cm.cfg.Timeout)
		defer cancel()
	}
	conn, err := cm.cfg.Dial(ctx, c.Addr)
	if err != nil {
		select {
		case cm.requests <- handleFailed{c, err}:
		case <-cm.quit:
		}
		return
	}

	select {
	case cm.requests <- handleConnected{c, conn}:
	case <-cm.quit:
		conn.Close()
	}
}

// Disconnect disconnects the connection corresponding to the given connection
// id. If permanent, the connection will be retried with an increasing backoff
// duration.  Otherwise a new outbound candidate is selected if the number of
// connections dropped below the target.
func (cm *ConnManager) Disconnect(id uint64) {
	select {
	case cm.requests <- handleDisconnected{id, true}:
	case <-cm.quit:
	}
}

// Remove removes the connection corresponding to the given connection id from
// known connections.
//
// NOTE: This method can also be used to cancel a lingering connection attempt
// that hasn't yet succeeded.  Unlike Disconnect and CancelPending, the outbound
// slot of a removed automatic request is given up rather than replaced.
func (cm *ConnManager) Remove(id uint64) {
	select {
	case cm.requests <- handleDisconnected{id, false}:
	case <-cm.quit:
	}
}

// CancelPending removes the connection corresponding to the given address
// from the list of pending failed connections.  A canceled automatic request
// is replaced by a new outbound candidate while below the target.
//
// Returns an error if the connection manager is stopped or there is no pending
// connection for the given address.
func (cm *ConnManager) CancelPending(addr hosts.PeerAddress) error {
	done := make(chan error, 1)
	select {
	case cm.requests <- handleCancelPending{addr, done}:
	case <-cm.quit:
		return MakeError(ErrStopped, "connection manager stopped")
	}

	// Wait for the connection to be removed from the conn manager's
	// internal state.
	select {
	case err := <-done:
		return err
	case <-cm.quit:
		return MakeError(ErrStopped, "connection manager stopped")
	}
}

// Run starts the connection manager and begins connecting to the network.  It
// blocks until the provided context is cancelled.
func (cm *ConnManager) Run(ctx context.Context) {
	log.Trace("Starting connection manager")

	// Start the connection handler goroutine.
	cm.wg.Add(1)
	go cm.connHandler(ctx)

	// Start enough outbound connections to reach the target number.
	for i := uint32(0); i < cm.cfg.TargetOutbound; i++ {
		go cm.newConnReq(ctx)
	}

	// Shutdown the connection manager when the context is canceled.
	cm.wg.Add(1)
	go func(ctx context.Context) {
		<-ctx.Done()
		close(cm.quit)
		cm.wg.Done()
	}(ctx)

	cm.wg.Wait()
	log.Trace("Connection manager stopped")
}

// New returns a new connection manager with the provided configuration.
//
// Use Run to start connecting to the network.
func New(cfg *Config) (*ConnManager, error) {
	if cfg.Dial == nil {
		return nil, MakeError(ErrDialNil, "config: dial cannot be nil")
	}
	if cfg.Source == nil {
		return nil, MakeError(ErrSourceNil, "config: source cannot be nil")
	}
	// Default to sane values
	if cfg.RetryDuration <= 0 {
		cfg.RetryDuration = defaultRetryDuration
	}
	if cfg.TargetOutbound == 0 {
		cfg.TargetOutbound = defaultTargetOutbound
	}
	cm := ConnManager{
		cfg:         *cfg, // Copy so caller can't mutate
		requests:    make(chan interface{}),
		quit:        make(chan struct{}),
		inUse:       make(map[hosts.PeerAddress]struct{}),
		inUseGroups: make(map[string]int),
		recentAttempts: lru.NewSetWithDefaultTTL[hosts.PeerAddress](
			maxRecentAttempts, recentAttemptWindow),
	}
	if len(cm.cfg.Schemes) == 0 {
		cm.cfg.Schemes = hosts.SupportedSchemes()
	} else {
		cm.cfg.Schemes = append([]string(nil), cfg.Schemes...)
	}
	return &cm, nil
}
