// SPDX-License-Identifier: MIT

package qgate

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.quantumgate.dev/qgate/config"
	"go.quantumgate.dev/qgate/internal/access"
	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/codec"
	"go.quantumgate.dev/qgate/internal/events"
	"go.quantumgate.dev/qgate/internal/framing"
	"go.quantumgate.dev/qgate/internal/identity"
	"go.quantumgate.dev/qgate/internal/keys"
	"go.quantumgate.dev/qgate/internal/noisegen"
	"go.quantumgate.dev/qgate/internal/peer"
	"go.quantumgate.dev/qgate/internal/relay"
	"go.quantumgate.dev/qgate/internal/transport"
)

// handshakePollInterval bounds how often recvStep retries a nonblocking
// Transport.Recv while waiting for the next handshake message.
const handshakePollInterval = 5 * time.Millisecond

const (
	keyPoolPrimary keys.AlgorithmID = iota
	keyPoolSigning
)

// peerSession is the live state LocalInstance keeps for one established
// peer: the protocol-level PeerRecord plus everything needed to keep
// talking to it (suite, transport, optional noise generator).
type peerSession struct {
	mu sync.Mutex // serializes Record.Current mutation across send/receive

	record    *peer.Record
	suite     algorithms.Suite
	transport transport.Transport
	endpoint  transport.Endpoint
	identity  identity.ID

	violations *peer.ViolationCounter
	noise      *noisegen.Generator

	rekey        *peer.Rekey
	rekeyJitter  time.Duration // redrawn after every completed rekey
	rekeyEphPub  []byte        // our ephemeral public sent with the in-flight Rekey offer
	rekeyEphPriv []byte        // paired private key, held until the peer's reply derives the shared secret

	previousKey       *peer.KeyState // superseded Current, retained decrypt-only for Policy.GraceDuration
	previousKeyExpiry time.Time

	stop chan struct{}
}

// openLocked opens frame under the session's Current key, falling back to
// the just-superseded key for the remainder of its grace window so frames
// already in flight when a rekey commits aren't dropped. Caller holds s.mu.
func (s *peerSession) openLocked(frame []byte) (framing.Opened, bool) {
	nonce, opened, err := framing.Open(s.suite.AEAD(s.record.Current.Key), frame)
	if err == nil && s.record.Current.RecvTracker.Accept(nonce) {
		return opened, true
	}

	if s.previousKey != nil && time.Now().Before(s.previousKeyExpiry) {
		if pNonce, pOpened, pErr := framing.Open(s.suite.AEAD(s.previousKey.Key), frame); pErr == nil {
			if s.previousKey.RecvTracker.Accept(pNonce) {
				return pOpened, true
			}
		}
	}
	return framing.Opened{}, false
}

// rekeyPolicy builds a peer.RekeyPolicy from the configured KeyUpdateSecurity
// tunables.
func (li *LocalInstance) rekeyPolicy() peer.RekeyPolicy {
	return peer.RekeyPolicy{
		MinInterval:       li.cfg.Security.KeyUpdate.MinInterval,
		MaxInterval:       li.cfg.Security.KeyUpdate.MaxInterval,
		RequireAfterBytes: li.cfg.Security.KeyUpdate.RequireAfterNumProcessedBytes,
		MaxDuration:       li.cfg.Security.KeyUpdate.MaxDuration,
		GraceDuration:     li.cfg.Security.KeyUpdate.GraceDuration,
	}
}

// LocalInstance is one running QuantumGate node: an identity, a set of
// active peer sessions, and the supporting managers (access control, key
// pregeneration, endpoint discovery, relay table, extender dispatch).
// Grounded on device.Device's lifecycle (AtomicBool guards, starting/
// stopping WaitGroups, NumCPU-sized worker pool, idempotent Close).
type LocalInstance struct {
	isUp     atomic.Bool
	isClosed atomic.Bool

	log Logger
	cfg config.Config

	longTermPublic  []byte
	longTermPrivate []byte
	identity        identity.ID
	supported       algorithms.SupportedSets

	access    *access.Manager
	keysMgr   *keys.Manager
	relays    *relay.Table
	events    *events.Dispatcher
	shutdown  *events.Coordinator
	luidNext  atomic.Uint64

	relayForwarder *relay.Forwarder

	relayPendingMu sync.Mutex
	relayPending   map[uint64]func(relay.Control) // awaiting an Accept/Reject for a relay_port this node opened or is forwarding

	relayRoutesMu     sync.Mutex
	relayRoutes       map[uint64]chan []byte // relay_port -> inbound queue for a locally terminated relay session
	relayRouteGateway map[uint64]peer.LUID   // relay_port -> the adjoining direct session carrying it

	peers struct {
		sync.RWMutex
		byLUID     map[peer.LUID]*peerSession
		byIdentity map[identity.ID]peer.LUID
	}

	state struct {
		starting sync.WaitGroup
		stopping sync.WaitGroup
	}
}

// NewLocalInstance builds a LocalInstance from cfg: generates a long-term
// signing identity, negotiable algorithm sets, and the access/keys/relay/
// event managers cfg's security sections describe. It does not start any
// background workers; call Start for that.
func NewLocalInstance(cfg config.Config, log Logger) (*LocalInstance, error) {
	if log == nil {
		log = NopLogger()
	}

	signer := algorithms.NewDefaultSuite(algorithms.Quintuple{}).Signer()
	pub, priv, err := signer.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: generating local identity: %v", ErrFailed, err)
	}
	id := identity.Derive(pub, identity.TypePeer, identity.SigningEd25519)

	supported, err := buildSupportedSets(cfg.SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	recoveryRate := 1.0
	if cfg.Security.General.IPReputationImprovementInterval > 0 {
		recoveryRate = 1.0 / cfg.Security.General.IPReputationImprovementInterval.Seconds()
	}
	accessMgr := access.NewManager(access.Config{
		DefaultAllow:       true,
		MaxPerInterval:     cfg.Security.General.IPConnectionAttempts.MaxPerInterval,
		Interval:           cfg.Security.General.IPConnectionAttempts.Interval,
		ReputationRecovery: recoveryRate,
	})

	li := &LocalInstance{
		log:             log,
		cfg:             cfg,
		longTermPublic:  pub,
		longTermPrivate: priv,
		identity:        id,
		supported:       supported,
		access:          accessMgr,
		events:          events.NewDispatcher(accessMgr),
		shutdown:        events.NewCoordinator(),
	}

	excludedV4, excludedV6, err := parseExcludedNetworks(cfg.Relays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	li.relays = relay.NewTable(relay.Policy{
		MaxHops:            MaxHops,
		ExcludedNetworksV4: excludedV4,
		ExcludedNetworksV6: excludedV6,
		MaxSuspendDuration: cfg.Security.Relay.MaxSuspendDuration,
		GracePeriod:        cfg.Security.Relay.GracePeriod,
		Admission: func(addr netip.Addr) bool {
			return li.access.Check(addr, access.CheckRelayHop) == nil
		},
	})

	li.relayPending = make(map[uint64]func(relay.Control))
	li.relayRoutes = make(map[uint64]chan []byte)
	li.relayRouteGateway = make(map[uint64]peer.LUID)
	li.relayForwarder = &relay.Forwarder{
		Emit: func(targetLUID, relayPort uint64, payload []byte) error {
			li.peers.RLock()
			target, ok := li.peers.byLUID[peer.LUID(targetLUID)]
			li.peers.RUnlock()
			if !ok {
				return ErrPeerNotFound
			}
			body := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(payload)), relayPort)
			body = append(body, payload...)
			return li.sealAndSend(target, framing.TypeRelayData, 0, body)
		},
	}

	li.keysMgr = keys.NewManager()
	depth := cfg.NumPregeneratedKeys
	if depth <= 0 {
		depth = 1
	}
	li.keysMgr.Register(keyPoolPrimary, depth, func() ([]byte, []byte, error) {
		return algorithms.NewDefaultSuite(algorithms.Quintuple{Primary: algorithms.PrimaryX25519}).KeyExchange().GenerateEphemeral()
	})
	li.keysMgr.Register(keyPoolSigning, depth, func() ([]byte, []byte, error) {
		return signer.GenerateKeyPair()
	})

	li.peers.byLUID = make(map[peer.LUID]*peerSession)
	li.peers.byIdentity = make(map[identity.ID]peer.LUID)

	return li, nil
}

// Identity returns the instance's own PeerIdentity.
func (li *LocalInstance) Identity() identity.ID { return li.identity }

// Start brings the instance up: pregenerated key workers and the relay
// grace/suspension sweeper. Calling Start on an already-closed instance is
// a no-op error.
func (li *LocalInstance) Start() error {
	if li.isClosed.Load() {
		return ErrNotRunning
	}
	if !li.isUp.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	li.keysMgr.Start(runtime.NumCPU())

	li.state.starting.Add(1)
	li.state.stopping.Add(1)
	go li.sweepRelays()
	li.state.starting.Wait()

	li.log.Info("qgate: instance started")
	return nil
}

func (li *LocalInstance) sweepRelays() {
	defer li.state.stopping.Done()
	li.state.starting.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	done := li.shutdown.Process().Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			li.relays.SweepGrace()
			for _, port := range li.relays.SweepSuspended() {
				li.log.Debugf("qgate: relay link %d torn down after max_suspend_duration", port)
			}
		}
	}
}

// Close tears the instance down: every live peer session is disconnected,
// background workers are stopped, and a second Close is a no-op (mirrors
// device.Device.Close's atomic Swap guard).
func (li *LocalInstance) Close() error {
	if li.isClosed.Swap(true) {
		return nil
	}
	li.state.starting.Wait()
	li.shutdown.ShutdownAll()

	li.peers.Lock()
	sessions := make([]*peerSession, 0, len(li.peers.byLUID))
	for _, s := range li.peers.byLUID {
		sessions = append(sessions, s)
	}
	li.peers.byLUID = make(map[peer.LUID]*peerSession)
	li.peers.byIdentity = make(map[identity.ID]peer.LUID)
	li.peers.Unlock()

	for _, s := range sessions {
		li.teardownSession(s, DisconnectLocalClose)
	}

	li.keysMgr.Stop()
	li.state.stopping.Wait()
	li.isUp.Store(false)
	li.log.Info("qgate: instance closed")
	return nil
}

// Wait returns a channel closed once Close has fired the process-wide
// shutdown signal.
func (li *LocalInstance) Wait() <-chan struct{} {
	return li.shutdown.Process().Done()
}

// RegisterExtender adds ext to the set notified of peer lifecycle events
// and messages addressed to id.
func (li *LocalInstance) RegisterExtender(id uint16, ext events.Extender) {
	li.events.Register(id, ext)
}

// UnregisterExtender removes a previously registered extender.
func (li *LocalInstance) UnregisterExtender(id uint16) {
	li.events.Unregister(id)
}

// ConnectTo initiates the handshake to a remote peer over t/ep and, on
// success, returns the new connection's process-local handle. hops is the
// number of relay hops this connection is routed through (0 for direct);
// finalEndpoint is the ultimate destination address and is required when
// hops > 0 (ep is then the gateway's address, not the destination's). Only
// hops in {0, 1} are supported: a single gateway that already holds a
// live session to finalEndpoint. Deeper chains return ErrInvalidArgument —
// see DESIGN.md for why.
func (li *LocalInstance) ConnectTo(ctx context.Context, t transport.Transport, ep transport.Endpoint, hops int, finalEndpoint netip.AddrPort, extenders []uint16) (peer.LUID, error) {
	if !li.isUp.Load() {
		return 0, ErrNotRunning
	}
	if hops < 0 || hops > MaxHops {
		return 0, fmt.Errorf("%w: hops out of range", ErrInvalidArgument)
	}
	if hops > 1 {
		return 0, fmt.Errorf("%w: relay chains beyond a single gateway hop are not supported", ErrInvalidArgument)
	}
	if hops > 0 && !finalEndpoint.IsValid() {
		return 0, fmt.Errorf("%w: missing final endpoint for relay connection", ErrInvalidArgument)
	}

	addr := addrFromEndpoint(ep)
	if addr.IsValid() {
		if err := li.access.Check(addr, access.CheckOutbound); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
		li.access.RegisterConnection(addr)
	}

	if ep.Network() == "udp" {
		go li.emitDecoys(t, ep)
	}

	if delay, err := peer.HandshakeDelay(li.cfg.Security.General.MaxHandshakeDelay); err == nil && delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if addr.IsValid() {
				li.access.ReleaseConnection(addr)
			}
			return 0, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}

	session, err := li.runHandshake(ctx, t, ep, true, extenders)
	if err != nil {
		if addr.IsValid() {
			li.access.ReleaseConnection(addr)
		}
		return 0, err
	}

	li.registerSession(session)
	li.events.DispatchPeerEvent(events.PeerEvent{LUID: session.record.LUID, Addr: addr, Kind: events.PeerConnected})

	if hops == 0 {
		return session.record.LUID, nil
	}
	luid, err := li.openRelay(ctx, session, finalEndpoint, extenders)
	if err != nil {
		_ = li.DisconnectFrom(session.record.LUID, DisconnectProtocolViolation)
		return 0, err
	}
	return luid, nil
}

// AcceptHandshake runs the responder side of the handshake over an already-
// accepted Transport. It is the counterpart a listener's Accept loop calls
// once it has a live connection from an unrecognized peer.
func (li *LocalInstance) AcceptHandshake(ctx context.Context, t transport.Transport, ep transport.Endpoint, extenders []uint16) (peer.LUID, error) {
	if !li.isUp.Load() {
		return 0, ErrNotRunning
	}

	addr := addrFromEndpoint(ep)
	if addr.IsValid() {
		if err := li.access.Check(addr, access.CheckInbound); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
		li.access.RegisterConnection(addr)
	}

	session, err := li.runHandshake(ctx, t, ep, false, extenders)
	if err != nil {
		if addr.IsValid() {
			li.access.ReleaseConnection(addr)
		}
		return 0, err
	}

	li.registerSession(session)
	li.events.DispatchPeerEvent(events.PeerEvent{LUID: session.record.LUID, Addr: addr, Kind: events.PeerConnected})
	return session.record.LUID, nil
}

func (li *LocalInstance) registerSession(s *peerSession) {
	li.peers.Lock()
	li.peers.byLUID[s.record.LUID] = s
	li.peers.byIdentity[s.identity] = s.record.LUID
	li.peers.Unlock()

	s.rekey = peer.NewRekey(li.rekeyPolicy())
	if jitter, err := s.rekey.Policy.JitterDeadline(); err == nil {
		s.rekeyJitter = jitter
	}

	if li.cfg.Security.Noise.Enabled {
		s.noise = &noisegen.Generator{
			Policy: noisegen.Policy{
				MinMessagesPerInterval: li.cfg.Security.Noise.MinMessagesPerInterval,
				MaxMessagesPerInterval: li.cfg.Security.Noise.MaxMessagesPerInterval,
				MinMessageSize:         li.cfg.Security.Noise.MinMessageSize,
				MaxMessageSize:         li.cfg.Security.Noise.MaxMessageSize,
				Interval:               li.cfg.Security.Noise.TimeInterval,
			},
			Emit: func(f noisegen.Frame) {
				_ = li.sealAndSend(s, framing.TypePing, 0, f.Payload)
			},
			Suspended: func() bool { return s.record.State() == peer.StateSuspended },
		}
		s.noise.Start()
	}

	li.state.starting.Add(1)
	li.state.stopping.Add(1)
	go li.pump(s)
	li.state.starting.Wait()
}

// pump is the per-session receive loop: it reads wire frames off s.transport,
// opens them, and routes them to dispatch. It exits once s.stop is closed by
// teardownSession, or the transport itself fails.
func (li *LocalInstance) pump(s *peerSession) {
	li.state.starting.Done()
	defer li.state.stopping.Done()

	buf := make([]byte, 1<<16)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		li.maybeRekey(s)

		n, _, err := s.transport.Recv(buf)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				select {
				case <-s.stop:
					return
				case <-time.After(handshakePollInterval):
				}
				continue
			}
			li.log.Debugf("qgate: peer %d transport error: %v", s.record.LUID, err)
			go li.DisconnectFrom(s.record.LUID, DisconnectTransportError)
			return
		}
		li.handleFrame(s, append([]byte(nil), buf[:n]...))
	}
}

func (li *LocalInstance) handleFrame(s *peerSession, frame []byte) {
	s.mu.Lock()
	opened, ok := s.openLocked(frame)
	if !ok {
		s.mu.Unlock()
		li.recordFailure(s, peer.FailureCryptographic)
		return
	}
	s.record.RecordActivity(uint64(len(frame)), 0)
	s.mu.Unlock()

	frameTime := time.Unix(0, int64(opened.Header.TimestampNanos))
	if err := peer.CheckMessageAge(frameTime, li.cfg.Security.Message.AgeTolerance); err != nil {
		li.recordFailure(s, peer.FailureProtocolViolation)
		return
	}

	switch opened.Header.Type {
	case framing.TypeData:
		li.handleDataFrame(s, opened)
	case framing.TypePing, framing.TypePong:
		// dummy/noise traffic, or a liveness probe; no further action.
	case framing.TypeShutdown:
		go li.DisconnectFrom(s.record.LUID, DisconnectRemoteClose)
	case framing.TypeRekey:
		li.handleRekeyFrame(s, opened.Payload)
	case framing.TypeRelayData:
		li.handleRelayData(s, opened.Payload)
	case framing.TypeRelayControl:
		li.handleRelayControl(s, opened.Payload)
	case framing.TypeExtenderUpdate:
		// extender list updates after handshake are not yet supported; the
		// advertisement exchanged during the handshake is treated as final.
	default:
		li.recordFailure(s, peer.FailureProtocolViolation)
	}
}

func (li *LocalInstance) handleDataFrame(s *peerSession, opened framing.Opened) {
	if opened.Header.Flags&framing.FlagHasExtenderTag == 0 {
		return
	}
	payload := opened.Payload
	if opened.Header.Flags&framing.FlagCompressed != 0 {
		c, err := codec.ByID(codec.ID(s.record.Quintuple.Compression))
		if err != nil {
			li.recordFailure(s, peer.FailureProtocolViolation)
			return
		}
		payload, err = c.Decompress(nil, payload, int(opened.Header.UncompressedLen))
		if err != nil {
			li.recordFailure(s, peer.FailureProtocolViolation)
			return
		}
	}
	extenderID := binary.BigEndian.Uint16(opened.Header.ExtenderTag[:2])
	li.events.DispatchPeerMessage(events.PeerMessage{
		LUID:     s.record.LUID,
		Addr:     addrFromEndpoint(s.endpoint),
		Extender: extenderID,
		Payload:  payload,
	})
}

// recordFailure applies f's reputation delta and closes the connection
// outright (FailureCryptographic) or once its violation counter crosses
// HandshakeViolationThreshold ("Failure semantics").
func (li *LocalInstance) recordFailure(s *peerSession, f peer.Failure) {
	addr := addrFromEndpoint(s.endpoint)
	if addr.IsValid() {
		li.access.Deteriorate(addr, f.ReputationDelta())
	}
	if f.ClosesImmediately() || s.violations.Record() {
		go li.DisconnectFrom(s.record.LUID, DisconnectProtocolViolation)
	}
}

// DisconnectFrom tears down one peer session, notifying extenders with
// reason.
func (li *LocalInstance) DisconnectFrom(luid peer.LUID, reason DisconnectReason) error {
	li.peers.Lock()
	s, ok := li.peers.byLUID[luid]
	if ok {
		delete(li.peers.byLUID, luid)
		delete(li.peers.byIdentity, s.identity)
	}
	li.peers.Unlock()
	if !ok {
		return ErrPeerNotFound
	}

	addr := addrFromEndpoint(s.endpoint)
	li.teardownSession(s, reason)
	if addr.IsValid() {
		li.access.ReleaseConnection(addr)
	}
	li.events.DispatchPeerEvent(events.PeerEvent{LUID: luid, Addr: addr, Kind: events.PeerDisconnected, Reason: disconnectError(reason)})
	return nil
}

func (li *LocalInstance) teardownSession(s *peerSession, reason DisconnectReason) {
	li.log.Debugf("qgate: tearing down peer %d: %s", s.record.LUID, reason)
	li.teardownRelaysFor(uint64(s.record.LUID))
	if s.noise != nil {
		s.noise.Stop()
	}
	if s.stop != nil {
		close(s.stop)
	}
	_ = s.record.Transition(peer.StateDisconnecting)
	_ = s.record.Transition(peer.StateClosed)
	_ = s.transport.Close()
}

// SendMessageTo seals payload as extender traffic and sends it to luid's
// current endpoint, compressing it first if the session's negotiated
// Quintuple selected a compression codec.
func (li *LocalInstance) SendMessageTo(luid peer.LUID, extenderID uint16, payload []byte) error {
	li.peers.RLock()
	s, ok := li.peers.byLUID[luid]
	li.peers.RUnlock()
	if !ok {
		return ErrPeerNotFound
	}
	if s.record.State() != peer.StateReady {
		return fmt.Errorf("%w: peer not Ready", ErrFailed)
	}
	return li.sealAndSendExtender(s, extenderID, payload)
}

func (li *LocalInstance) sealAndSendExtender(s *peerSession, extenderID uint16, payload []byte) error {
	var tag [framing.ExtenderTagSize]byte
	binary.BigEndian.PutUint16(tag[:2], extenderID)

	c, err := codec.ByID(codec.ID(s.record.Quintuple.Compression))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	body := payload
	flags := framing.FlagHasExtenderTag
	uncompressedLen := 0
	if out, ok := c.Compress(nil, payload); ok {
		uncompressedLen = len(payload)
		body = out
		flags |= framing.FlagCompressed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.record.Current.SendNonce
	frame, err := framing.Seal(nil, s.suite.AEAD(s.record.Current.Key), nonce, framing.Header{
		Type:            framing.TypeData,
		Flags:           flags,
		TimestampNanos:  uint64(time.Now().UnixNano()),
		ExtenderTag:     tag,
		UncompressedLen: uint32(uncompressedLen),
	}, body, framing.PaddingPolicy{
		PrefixMin:  li.cfg.Security.Message.MinRandomDataPrefixSize,
		PrefixMax:  li.cfg.Security.Message.MaxRandomDataPrefixSize,
		PaddingMin: li.cfg.Security.Message.MinInternalRandomDataSize,
		PaddingMax: li.cfg.Security.Message.MaxInternalRandomDataSize,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	nonce.Increment()
	s.record.Current.SendNonce = nonce
	s.record.RecordActivity(0, uint64(len(frame)))

	if err := s.transport.Send(frame, s.endpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}

func (li *LocalInstance) sealAndSend(s *peerSession, typ framing.Type, extenderID uint16, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.record.Current.SendNonce
	frame, err := framing.Seal(nil, s.suite.AEAD(s.record.Current.Key), nonce, framing.Header{
		Type:           typ,
		TimestampNanos: uint64(time.Now().UnixNano()),
	}, payload, framing.DefaultPaddingPolicy)
	if err != nil {
		return err
	}
	nonce.Increment()
	s.record.Current.SendNonce = nonce
	return s.transport.Send(frame, s.endpoint)
}

// openRelay runs the relay-open handshake over an already-Ready gateway
// session: it picks a relay_port, sends a Control{Op: OpOpen} carrying a
// fresh ephemeral public key, and waits for the chain's eventual Accept or
// Reject. On Accept it derives the end-to-end key from the reply's
// ephemeral and builds the relayed peerSession via finishRelayOpen.
func (li *LocalInstance) openRelay(ctx context.Context, gw *peerSession, finalEndpoint netip.AddrPort, extenders []uint16) (peer.LUID, error) {
	kx := gw.suite.KeyExchange()
	ephPub, ephPriv, err := kx.GenerateEphemeral()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	port, err := relay.NewPort()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	replies := make(chan relay.Control, 1)
	li.relayPendingMu.Lock()
	li.relayPending[port] = func(ctrl relay.Control) { replies <- ctrl }
	li.relayPendingMu.Unlock()
	defer func() {
		li.relayPendingMu.Lock()
		delete(li.relayPending, port)
		li.relayPendingMu.Unlock()
	}()

	open := relay.Control{Op: relay.OpOpen, RelayPort: port, FinalEndpoint: finalEndpoint, Inner: ephPub}
	if err := li.sealAndSend(gw, framing.TypeRelayControl, 0, open.Marshal()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	select {
	case ctrl := <-replies:
		if ctrl.Op != relay.OpAccept {
			return 0, fmt.Errorf("%w: gateway rejected relay open", ErrRelayExcluded)
		}
		return li.finishRelayOpen(gw, port, finalEndpoint, kx, ephPriv, ctrl.Inner, peer.DirectionOutbound, extenders)
	case <-time.After(li.cfg.Security.Relay.ConnectTimeout):
		return 0, ErrHandshakeTimeout
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// finishRelayOpen derives the end-to-end key from the local ephemeral
// private key and the peer's ephemeral public key, then builds and
// registers a peerSession whose transport is a relayTransport tunneling
// RelayData frames through gw at relayPort. Called by the relay's
// initiator once the chain accepts, and by the chain's final hop when it
// accepts an inbound open.
func (li *LocalInstance) finishRelayOpen(gw *peerSession, port uint64, finalEndpoint netip.AddrPort, kx algorithms.KeyExchanger, localPriv, remotePub []byte, dir peer.Direction, extenders []uint16) (peer.LUID, error) {
	shared, err := kx.SharedSecret(localPriv, remotePub)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	key := peer.DeriveSharedSecret(gw.suite.KDF(), shared, nil, li.cfg.GlobalSharedSecret)

	rec := peer.NewRecord(peer.LUID(li.luidNext.Add(1)), dir)
	if err := rec.Transition(peer.StateHandshakeKeyExchange); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if err := rec.Transition(peer.StateHandshakeAuth); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	rec.SetQuintuple(gw.record.Quintuple)
	rec.InstallPendingKey(peer.KeyState{Key: key, InstalledAt: time.Now()})
	rec.PromotePending()
	if err := rec.Transition(peer.StateReady); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	rec.RemoteEndpoint = finalEndpoint.String()
	rec.LocalEndpoint = gw.record.LocalEndpoint
	rec.RemoteIdentity = identity.Derive(remotePub, identity.TypePeer, identity.SigningEd25519)
	rec.IsRelayed = true
	rec.RelayLinkPort = port

	recvCh := make(chan []byte, 8)
	li.relayRoutesMu.Lock()
	li.relayRoutes[port] = recvCh
	li.relayRouteGateway[port] = gw.record.LUID
	li.relayRoutesMu.Unlock()

	rt := &relayTransport{
		li:       li,
		gateway:  gw,
		port:     port,
		recv:     recvCh,
		localEP:  gw.transport.LocalEndpoint(),
		remoteEP: endpointFromAddrPort(finalEndpoint),
	}

	s := &peerSession{
		record:     rec,
		suite:      gw.suite,
		transport:  rt,
		endpoint:   rt.remoteEP,
		identity:   rec.RemoteIdentity,
		violations: peer.NewViolationCounter(HandshakeViolationThreshold),
		stop:       make(chan struct{}),
	}
	li.registerSession(s)
	_ = extenders // relay sessions don't re-run ExtenderAdvertisement; the gateway session's already did
	li.events.DispatchPeerEvent(events.PeerEvent{LUID: rec.LUID, Addr: finalEndpoint.Addr(), Kind: events.PeerConnected})
	return rec.LUID, nil
}

// findSessionByEndpoint returns the Ready session (other than exclude)
// whose remote address matches target's, used by onRelayOpen to decide
// whether this node can terminate a relay chain (it already holds a
// direct session to the final endpoint) or must forward the open onward.
func (li *LocalInstance) findSessionByEndpoint(target netip.AddrPort, exclude *peerSession) (*peerSession, bool) {
	li.peers.RLock()
	defer li.peers.RUnlock()
	for _, s := range li.peers.byLUID {
		if s == exclude || s.record.State() != peer.StateReady {
			continue
		}
		if addrFromEndpoint(s.endpoint) == target.Addr() {
			return s, true
		}
	}
	return nil, false
}

// onRelayOpen handles an inbound Control{Op: OpOpen} arriving on s. If this
// node already holds a direct session to the requested final endpoint, it
// opens a relay.Link there and forwards the open onward (this node becomes
// an intermediate hop); otherwise it treats itself as the chain's final
// hop and completes the end-to-end exchange via finishRelayOpen.
func (li *LocalInstance) onRelayOpen(s *peerSession, ctrl relay.Control) {
	reject := func() {
		_ = li.sealAndSend(s, framing.TypeRelayControl, 0, relay.Control{
			Op: relay.OpReject, RelayPort: ctrl.RelayPort,
		}.Marshal())
	}

	if err := li.relays.Admit(ctrl.FinalEndpoint.Addr(), int(ctrl.HopsRemaining)); err != nil {
		reject()
		return
	}

	if downstream, ok := li.findSessionByEndpoint(ctrl.FinalEndpoint, s); ok {
		if _, err := li.relays.OpenWithPort(ctrl.RelayPort, int(ctrl.HopsRemaining), uint64(s.record.LUID), uint64(downstream.record.LUID), relay.DirectionForward); err != nil {
			reject()
			return
		}

		li.relayPendingMu.Lock()
		li.relayPending[ctrl.RelayPort] = func(reply relay.Control) {
			if reply.Op != relay.OpAccept {
				li.relays.Close(ctrl.RelayPort)
			}
			_ = li.sealAndSend(s, framing.TypeRelayControl, 0, reply.Marshal())
		}
		li.relayPendingMu.Unlock()

		fwd := relay.Control{Op: relay.OpOpen, RelayPort: ctrl.RelayPort, FinalEndpoint: ctrl.FinalEndpoint, Inner: ctrl.Inner}
		if err := li.sealAndSend(downstream, framing.TypeRelayControl, 0, fwd.Marshal()); err != nil {
			li.relays.Close(ctrl.RelayPort)
			li.relayPendingMu.Lock()
			delete(li.relayPending, ctrl.RelayPort)
			li.relayPendingMu.Unlock()
			reject()
		}
		return
	}

	kx := s.suite.KeyExchange()
	pub, priv, err := kx.GenerateEphemeral()
	if err != nil {
		reject()
		return
	}
	luid, err := li.finishRelayOpen(s, ctrl.RelayPort, ctrl.FinalEndpoint, kx, priv, ctrl.Inner, peer.DirectionInbound, nil)
	if err != nil {
		reject()
		return
	}
	accept := relay.Control{Op: relay.OpAccept, RelayPort: ctrl.RelayPort, Inner: pub}
	if err := li.sealAndSend(s, framing.TypeRelayControl, 0, accept.Marshal()); err != nil {
		_ = li.DisconnectFrom(luid, DisconnectTransportError)
	}
}

// onRelayClose handles an inbound Control{Op: OpClose}: if the port is an
// intermediate Link, the close is relayed to the opposite peer; if it is a
// locally terminated relay session's route, its recv channel is closed so
// the relay session's pump sees a transport error and tears itself down.
func (li *LocalInstance) onRelayClose(from *peerSession, ctrl relay.Control) {
	if link := li.relays.Lookup(ctrl.RelayPort); link != nil {
		target := link.DownstreamLUID
		if uint64(from.record.LUID) == link.DownstreamLUID {
			target = link.UpstreamLUID
		}
		li.relays.Close(ctrl.RelayPort)

		li.peers.RLock()
		next, ok := li.peers.byLUID[peer.LUID(target)]
		li.peers.RUnlock()
		if ok {
			_ = li.sealAndSend(next, framing.TypeRelayControl, 0, ctrl.Marshal())
		}
		return
	}

	li.relayRoutesMu.Lock()
	ch, ok := li.relayRoutes[ctrl.RelayPort]
	if ok {
		delete(li.relayRoutes, ctrl.RelayPort)
		delete(li.relayRouteGateway, ctrl.RelayPort)
	}
	li.relayRoutesMu.Unlock()
	if ok {
		close(ch)
	}
}

// handleRelayControl dispatches one decoded RelayControl frame arriving on
// s to the right handler by Op.
func (li *LocalInstance) handleRelayControl(s *peerSession, payload []byte) {
	ctrl, err := relay.DecodeControl(payload)
	if err != nil {
		li.recordFailure(s, peer.FailureProtocolViolation)
		return
	}

	switch ctrl.Op {
	case relay.OpOpen:
		li.onRelayOpen(s, ctrl)
	case relay.OpAccept, relay.OpReject:
		li.relayPendingMu.Lock()
		waiter := li.relayPending[ctrl.RelayPort]
		delete(li.relayPending, ctrl.RelayPort)
		li.relayPendingMu.Unlock()
		if waiter != nil {
			waiter(ctrl)
		}
	case relay.OpClose:
		li.onRelayClose(s, ctrl)
	default:
		li.recordFailure(s, peer.FailureProtocolViolation)
	}
}

// handleRelayData routes one RelayData frame arriving on s: if relay_port
// names a route terminating here (this node is the relay chain's origin
// or final hop), its payload is queued for the matching relayTransport's
// Recv; otherwise it must be an intermediate Link, and is forwarded
// opaquely per relay.Forwarder.Forward.
func (li *LocalInstance) handleRelayData(s *peerSession, payload []byte) {
	if len(payload) < 8 {
		li.recordFailure(s, peer.FailureProtocolViolation)
		return
	}
	port := binary.BigEndian.Uint64(payload[:8])
	inner := payload[8:]

	li.relayRoutesMu.Lock()
	route, ok := li.relayRoutes[port]
	li.relayRoutesMu.Unlock()
	if ok {
		select {
		case route <- append([]byte(nil), inner...):
		default:
			li.log.Debugf("qgate: relay route %d receive buffer full, dropping frame", port)
		}
		return
	}

	link := li.relays.Lookup(port)
	if link == nil {
		if !li.relays.InGracePeriod(port) {
			li.recordFailure(s, peer.FailureProtocolViolation)
		}
		return
	}
	if err := li.relayForwarder.Forward(link, uint64(s.record.LUID), inner); err != nil {
		li.log.Debugf("qgate: relay forward on port %d: %v", port, err)
	}
}

// teardownRelaysFor closes every relay.Link and locally-terminated relay
// route anchored to luid's session, called as that session tears down so
// a gateway's disconnect cascades to the relay sessions riding on it.
func (li *LocalInstance) teardownRelaysFor(luid uint64) {
	for _, link := range li.relays.CloseReferencing(luid) {
		li.log.Debugf("qgate: relay link %d torn down with peer %d", link.RelayPort, luid)

		opposite := link.DownstreamLUID
		if link.DownstreamLUID == luid {
			opposite = link.UpstreamLUID
		}
		if opposite == luid {
			continue
		}
		li.peers.RLock()
		next, ok := li.peers.byLUID[peer.LUID(opposite)]
		li.peers.RUnlock()
		if !ok {
			continue
		}
		closeCtrl := relay.Control{Op: relay.OpClose, RelayPort: link.RelayPort}
		if err := li.sealAndSend(next, framing.TypeRelayControl, 0, closeCtrl.Marshal()); err != nil {
			li.log.Debugf("qgate: notifying peer %d of relay link %d close: %v", opposite, link.RelayPort, err)
		}
	}

	li.relayRoutesMu.Lock()
	var closing []chan []byte
	for port, gwLUID := range li.relayRouteGateway {
		if uint64(gwLUID) == luid {
			if ch, ok := li.relayRoutes[port]; ok {
				closing = append(closing, ch)
				delete(li.relayRoutes, port)
			}
			delete(li.relayRouteGateway, port)
		}
	}
	li.relayRoutesMu.Unlock()
	for _, ch := range closing {
		close(ch)
	}
}

// relayTransport adapts a relay_port tunnel riding on gateway's direct
// session into a transport.Transport, letting a relayed peerSession run
// through the exact same sealAndSend/pump/handleFrame machinery as a
// direct one ("Forwarding": RelayData frames carry an opaque, independently
// end-to-end encrypted inner payload).
type relayTransport struct {
	li       *LocalInstance
	gateway  *peerSession
	port     uint64
	recv     chan []byte
	localEP  transport.Endpoint
	remoteEP transport.Endpoint
	closed   atomic.Bool
}

func (rt *relayTransport) Send(b []byte, _ transport.Endpoint) error {
	if rt.closed.Load() {
		return transport.ErrUnsupported
	}
	body := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(b)), rt.port)
	body = append(body, b...)
	return rt.li.sealAndSend(rt.gateway, framing.TypeRelayData, 0, body)
}

func (rt *relayTransport) Recv(buf []byte) (int, transport.Endpoint, error) {
	select {
	case b, ok := <-rt.recv:
		if !ok {
			return 0, nil, io.EOF
		}
		return copy(buf, b), rt.remoteEP, nil
	default:
		return 0, nil, transport.ErrWouldBlock
	}
}

func (rt *relayTransport) Accept() (transport.Transport, transport.Endpoint, error) {
	return nil, nil, transport.ErrUnsupported
}

func (rt *relayTransport) LocalEndpoint() transport.Endpoint { return rt.localEP }

func (rt *relayTransport) Close() error {
	if rt.closed.Swap(true) {
		return nil
	}
	rt.li.relayRoutesMu.Lock()
	delete(rt.li.relayRoutes, rt.port)
	delete(rt.li.relayRouteGateway, rt.port)
	rt.li.relayRoutesMu.Unlock()
	rt.li.relays.Close(rt.port)
	return nil
}

// addrPortEndpoint adapts a netip.AddrPort (the address semantics a relay
// chain's final endpoint is named by) to transport.Endpoint.
type addrPortEndpoint struct{ ap netip.AddrPort }

func (e addrPortEndpoint) String() string  { return e.ap.String() }
func (e addrPortEndpoint) Network() string { return "relay" }

func endpointFromAddrPort(ap netip.AddrPort) transport.Endpoint { return addrPortEndpoint{ap} }

// maybeRekey checks whether s is due for a rekey (time/jitter deadline or
// RequireAfterBytes under the Current key, which also bounds how close the
// send nonce can get to wrapping) and, if so and s initiated the original
// handshake, sends a Rekey offer. The non-initiating side only ever replies
// to a peer's offer, never originates one, so a rekey attempt is never
// raced from both ends at once. An in-flight rekey that overruns
// Policy.MaxDuration closes the connection.
func (li *LocalInstance) maybeRekey(s *peerSession) {
	s.mu.Lock()
	state := s.rekey.State
	sinceLast := time.Since(s.record.Current.InstalledAt)
	bytesProcessed := s.record.Current.BytesProcessed
	jitter := s.rekeyJitter
	s.mu.Unlock()

	if state != peer.RekeyIdle {
		if err := s.rekey.CheckDeadline(); err != nil {
			go li.DisconnectFrom(s.record.LUID, DisconnectRekeyTimeout)
		}
		return
	}
	if s.record.Direction != peer.DirectionOutbound {
		return
	}
	if !s.rekey.Policy.Due(sinceLast, jitter, bytesProcessed) {
		return
	}
	li.beginRekey(s)
}

// beginRekey sends a Rekey offer carrying a fresh ephemeral public key and
// parks the matching private key on s until the peer's reply lets both
// sides derive the replacement symmetric key.
func (li *LocalInstance) beginRekey(s *peerSession) {
	s.mu.Lock()
	kx := s.suite.KeyExchange()
	s.mu.Unlock()

	pub, priv, err := kx.GenerateEphemeral()
	if err != nil {
		li.log.Debugf("qgate: peer %d rekey ephemeral: %v", s.record.LUID, err)
		return
	}
	offer := peer.EphemeralExchange{EphemeralPublic: pub}

	s.mu.Lock()
	s.rekeyEphPub = pub
	s.rekeyEphPriv = priv
	s.rekey.Begin()
	s.mu.Unlock()

	if err := li.sealAndSend(s, framing.TypeRekey, 0, offer.Marshal()); err != nil {
		s.mu.Lock()
		s.rekey.Reset()
		s.rekeyEphPriv = nil
		s.rekeyEphPub = nil
		s.mu.Unlock()
		li.log.Debugf("qgate: peer %d rekey offer failed: %v", s.record.LUID, err)
	}
}

// handleRekeyFrame runs both sides of the Rekey exchange: a peer receiving
// the initiator's offer while Idle replies with its own ephemeral and
// commits; the initiator receiving that reply derives the same key from its
// parked private key and commits.
func (li *LocalInstance) handleRekeyFrame(s *peerSession, payload []byte) {
	offer, err := peer.DecodeEphemeralExchange(payload)
	if err != nil {
		li.recordFailure(s, peer.FailureProtocolViolation)
		return
	}

	s.mu.Lock()
	state := s.rekey.State
	kx := s.suite.KeyExchange()
	kdf := s.suite.KDF()
	priv := s.rekeyEphPriv
	s.mu.Unlock()

	switch state {
	case peer.RekeyIdle:
		pub, responderPriv, err := kx.GenerateEphemeral()
		if err != nil {
			li.log.Debugf("qgate: peer %d rekey ephemeral: %v", s.record.LUID, err)
			return
		}
		shared, err := kx.SharedSecret(responderPriv, offer.EphemeralPublic)
		if err != nil {
			li.recordFailure(s, peer.FailureCryptographic)
			return
		}
		newKey := peer.DeriveSharedSecret(kdf, shared, nil, li.cfg.GlobalSharedSecret)

		s.mu.Lock()
		s.record.InstallPendingKey(peer.KeyState{Key: newKey, InstalledAt: time.Now()})
		s.rekey.Advance(peer.RekeyPendingInstalled)
		s.mu.Unlock()

		reply := peer.EphemeralExchange{EphemeralPublic: pub}
		if err := li.sealAndSend(s, framing.TypeRekey, 0, reply.Marshal()); err != nil {
			li.log.Debugf("qgate: peer %d rekey reply failed: %v", s.record.LUID, err)
			return
		}
		li.commitRekey(s)

	case peer.RekeySent:
		if priv == nil {
			li.recordFailure(s, peer.FailureProtocolViolation)
			return
		}
		shared, err := kx.SharedSecret(priv, offer.EphemeralPublic)
		if err != nil {
			li.recordFailure(s, peer.FailureCryptographic)
			return
		}
		newKey := peer.DeriveSharedSecret(kdf, shared, nil, li.cfg.GlobalSharedSecret)

		s.mu.Lock()
		s.record.InstallPendingKey(peer.KeyState{Key: newKey, InstalledAt: time.Now()})
		s.rekey.Advance(peer.RekeyPendingInstalled)
		s.rekeyEphPriv = nil
		s.rekeyEphPub = nil
		s.mu.Unlock()
		li.commitRekey(s)

	default:
		// duplicate or out-of-order offer while a commit is already in
		// flight; both sides converge on the same key from the first
		// exchange, so this one is simply dropped.
	}
}

// commitRekey promotes Pending to Current, retains the superseded key
// decrypt-only for Policy.GraceDuration so frames already in flight under it
// still decrypt, and redraws the next jitter deadline.
func (li *LocalInstance) commitRekey(s *peerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.record.PromotePending()
	if ok {
		s.previousKey = &previous
		s.previousKeyExpiry = time.Now().Add(s.rekey.Policy.GraceDuration)
	}

	s.rekey.Advance(peer.RekeyCommitted)
	s.rekey.Reset()
	if jitter, err := s.rekey.Policy.JitterDeadline(); err == nil {
		s.rekeyJitter = jitter
	}
}

// emitDecoys sends a burst of unauthenticated 64-byte random datagrams
// timed by peer.DecoySchedule, so an observer of UDP traffic cannot
// distinguish a real handshake attempt from background noise by packet
// count alone (UDP security: max_num_decoy_messages/
// max_decoy_message_interval).
func (li *LocalInstance) emitDecoys(t transport.Transport, ep transport.Endpoint) {
	if li.cfg.Security.UDP.MaxNumDecoyMessages <= 0 {
		return
	}
	delays, err := peer.DecoySchedule(li.cfg.Security.UDP.MaxNumDecoyMessages, li.cfg.Security.UDP.MaxDecoyMessageInterval)
	if err != nil {
		return
	}
	for _, d := range delays {
		time.Sleep(d)
		buf := make([]byte, 64)
		if _, err := cryptorand.Read(buf); err != nil {
			return
		}
		_ = t.Send(buf, ep)
	}
}

// runHandshake performs the Hello -> EphemeralExchange -> IdentityClaim ->
// ExtenderAdvertisement sequence () over t, as initiator or
// responder, and returns the resulting Ready peerSession. This is always a
// direct session: a relayed connection layers a second, lighter exchange
// (openRelay/finishRelayOpen) on top of one of these once it is Ready.
func (li *LocalInstance) runHandshake(ctx context.Context, t transport.Transport, ep transport.Endpoint, initiator bool, localExtenders []uint16) (*peerSession, error) {
	deadline := peer.NewDeadline(li.cfg.Security.General.MaxHandshakeDuration)
	transcript := &peer.Transcript{}

	paddingLen, err := randRange(li.cfg.Security.Message.MinRandomDataPrefixSize, li.cfg.Security.Message.MaxRandomDataPrefixSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	localHello, err := peer.NewHello([]uint8{ProtocolVersion}, li.supported, paddingLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	localBytes := localHello.Marshal()
	remoteBytes, err := li.exchangeStep(ctx, t, ep, localBytes, initiator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	remoteHello, err := peer.DecodeHello(remoteBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	appendOrdered(transcript, initiator, localBytes, remoteBytes)

	quintuple, err := peer.NegotiateHello(localHello, remoteHello)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, err)
	}
	if err := deadline.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	suite := algorithms.NewDefaultSuite(quintuple)
	kx := suite.KeyExchange()
	ephPub, ephPriv, err := kx.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	var ecdhShared, kemShared, local2Bytes, remote2Bytes []byte
	if initiator {
		local2 := peer.EphemeralExchange{EphemeralPublic: ephPub}
		var kemPriv []byte
		if quintuple.Secondary == algorithms.SecondaryKEM {
			kemPub, kp, kerr := suite.KEM().GenerateKeyPair()
			if kerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, kerr)
			}
			local2.KEMPublic = kemPub
			kemPriv = kp
		}
		local2Bytes = local2.Marshal()
		if err := t.Send(local2Bytes, ep); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, err)
		}
		remote2Bytes, err = li.recvStep(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		remote2, derr := peer.DecodeEphemeralExchange(remote2Bytes)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, derr)
		}
		ecdhShared, err = kx.SharedSecret(ephPriv, remote2.EphemeralPublic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, err)
		}
		if quintuple.Secondary == algorithms.SecondaryKEM {
			kemShared, err = suite.KEM().Decapsulate(remote2.KEMCiphertext, kemPriv)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
			}
		}
	} else {
		remote2Bytes, err = li.recvStep(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		remote2, derr := peer.DecodeEphemeralExchange(remote2Bytes)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, derr)
		}
		local2 := peer.EphemeralExchange{EphemeralPublic: ephPub}
		if quintuple.Secondary == algorithms.SecondaryKEM {
			ct, ks, kerr := suite.KEM().Encapsulate(remote2.KEMPublic)
			if kerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, kerr)
			}
			local2.KEMCiphertext = ct
			kemShared = ks
		}
		local2Bytes = local2.Marshal()
		if err := t.Send(local2Bytes, ep); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, err)
		}
		ecdhShared, err = kx.SharedSecret(ephPriv, remote2.EphemeralPublic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailed, err)
		}
	}
	appendOrdered(transcript, initiator, local2Bytes, remote2Bytes)
	if err := deadline.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	sharedKey := peer.DeriveSharedSecret(suite.KDF(), ecdhShared, kemShared, li.cfg.GlobalSharedSecret)

	localClaim, err := peer.BuildIdentityClaim(suite.Signer(), identity.TypePeer, identity.SigningEd25519, li.longTermPublic, li.longTermPrivate, transcript.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	local3Bytes := localClaim.Marshal()
	remote3Bytes, err := li.exchangeStep(ctx, t, ep, local3Bytes, initiator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	remoteClaim, err := peer.DecodeIdentityClaim(remote3Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if err := peer.VerifyIdentityClaim(suite.Signer(), remoteClaim, identity.TypePeer, identity.SigningEd25519, transcript.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	appendOrdered(transcript, initiator, local3Bytes, remote3Bytes)
	if err := deadline.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	localAdv := peer.NewExtenderAdvertisement(localExtenders)
	local4Bytes := localAdv.Marshal()
	remote4Bytes, err := li.exchangeStep(ctx, t, ep, local4Bytes, initiator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	remoteAdv, err := peer.DecodeExtenderAdvertisement(remote4Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	dir := peer.DirectionOutbound
	if !initiator {
		dir = peer.DirectionInbound
	}
	rec := peer.NewRecord(peer.LUID(li.luidNext.Add(1)), dir)
	if err := rec.Transition(peer.StateHandshakeKeyExchange); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if err := rec.Transition(peer.StateHandshakeAuth); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	rec.SetQuintuple(quintuple)
	rec.InstallPendingKey(peer.KeyState{Key: sharedKey, InstalledAt: time.Now()})
	rec.PromotePending()
	if err := rec.Transition(peer.StateReady); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	rec.RemoteEndpoint = ep.String()
	rec.LocalEndpoint = t.LocalEndpoint().String()
	rec.RemoteIdentity = remoteClaim.Identity
	rec.Extenders = remoteAdv.Extenders

	return &peerSession{
		record:     rec,
		suite:      suite,
		transport:  t,
		endpoint:   ep,
		identity:   remoteClaim.Identity,
		violations: peer.NewViolationCounter(HandshakeViolationThreshold),
		stop:       make(chan struct{}),
	}, nil
}

// exchangeStep sends localBytes and waits for the peer's reply for one
// handshake step, ordering send/recv so the initiator always speaks first
// and the responder always listens first.
func (li *LocalInstance) exchangeStep(ctx context.Context, t transport.Transport, ep transport.Endpoint, localBytes []byte, initiator bool) ([]byte, error) {
	if initiator {
		if err := t.Send(localBytes, ep); err != nil {
			return nil, err
		}
		return li.recvStep(ctx, t)
	}
	remote, err := li.recvStep(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := t.Send(localBytes, ep); err != nil {
		return nil, err
	}
	return remote, nil
}

func (li *LocalInstance) recvStep(ctx context.Context, t transport.Transport) ([]byte, error) {
	buf := make([]byte, 1<<16)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, _, err := t.Recv(buf)
		if err == nil {
			return append([]byte(nil), buf[:n]...), nil
		}
		if !errors.Is(err, transport.ErrWouldBlock) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(handshakePollInterval):
		}
	}
}

// appendOrdered appends localBytes/remoteBytes to t in protocol order
// (initiator's bytes first, then responder's), so both sides build an
// identical transcript regardless of role.
func appendOrdered(t *peer.Transcript, initiator bool, localBytes, remoteBytes []byte) {
	if initiator {
		t.Append(localBytes)
		t.Append(remoteBytes)
		return
	}
	t.Append(remoteBytes)
	t.Append(localBytes)
}

func randRange(min, max int) (int, error) {
	if max <= min {
		return min, nil
	}
	var buf [4]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 0, err
	}
	span := max - min
	return min + int(binary.BigEndian.Uint32(buf[:])%uint32(span+1)), nil
}

// addrFromEndpoint best-effort extracts a netip.Addr from ep's string form,
// for access-manager checks. Media without an IP-shaped endpoint (WebSocket
// hostnames, Bluetooth) yield an invalid Addr, and access checks are then
// skipped rather than misapplied.
func addrFromEndpoint(ep transport.Endpoint) netip.Addr {
	if ep == nil {
		return netip.Addr{}
	}
	if ap, err := netip.ParseAddrPort(ep.String()); err == nil {
		return ap.Addr()
	}
	if a, err := netip.ParseAddr(ep.String()); err == nil {
		return a
	}
	return netip.Addr{}
}

func disconnectError(r DisconnectReason) error {
	switch r {
	case DisconnectTimeout:
		return ErrTimeout
	case DisconnectAuthFailure:
		return ErrAuthFailure
	case DisconnectProtocolViolation:
		return ErrFailed
	case DisconnectTransportError:
		return ErrFailed
	case DisconnectRekeyTimeout:
		return ErrRekeyTimeout
	case DisconnectRemoteClose, DisconnectLocalClose:
		return ErrDisconnected
	default:
		return ErrDisconnected
	}
}

func parseExcludedNetworks(r config.Relays) (v4, v6 []netip.Prefix, err error) {
	for _, cidr := range r.IPv4ExcludedNetworksCIDR {
		p, perr := netip.ParsePrefix(cidr)
		if perr != nil {
			return nil, nil, perr
		}
		v4 = append(v4, p)
	}
	for _, cidr := range r.IPv6ExcludedNetworksCIDR {
		p, perr := netip.ParsePrefix(cidr)
		if perr != nil {
			return nil, nil, perr
		}
		v6 = append(v6, p)
	}
	return v4, v6, nil
}

func buildSupportedSets(sa config.SupportedAlgorithms) (algorithms.SupportedSets, error) {
	out := algorithms.SupportedSets{
		Hash:        []algorithms.Hash{algorithms.HashSHA256, algorithms.HashBLAKE2b},
		Primary:     []algorithms.PrimaryAsym{algorithms.PrimaryX25519},
		Secondary:   []algorithms.SecondaryAsym{algorithms.SecondaryNone},
		Symmetric:   algorithms.PreferredSymmetricOrder(),
		Compression: []uint8{uint8(codec.None), uint8(codec.Deflate), uint8(codec.Zstandard)},
	}

	if len(sa.Hash) > 0 {
		out.Hash = out.Hash[:0]
		for _, name := range sa.Hash {
			switch name {
			case "sha256":
				out.Hash = append(out.Hash, algorithms.HashSHA256)
			case "blake2b":
				out.Hash = append(out.Hash, algorithms.HashBLAKE2b)
			default:
				return out, fmt.Errorf("unknown hash algorithm %q", name)
			}
		}
	}
	if len(sa.PrimaryAsym) > 0 {
		out.Primary = out.Primary[:0]
		for _, name := range sa.PrimaryAsym {
			if name != "x25519" {
				return out, fmt.Errorf("unknown primary asymmetric algorithm %q", name)
			}
			out.Primary = append(out.Primary, algorithms.PrimaryX25519)
		}
	}
	if len(sa.SecondaryAsym) > 0 {
		out.Secondary = out.Secondary[:0]
		for _, name := range sa.SecondaryAsym {
			switch name {
			case "none":
				out.Secondary = append(out.Secondary, algorithms.SecondaryNone)
			case "kem":
				out.Secondary = append(out.Secondary, algorithms.SecondaryKEM)
			default:
				return out, fmt.Errorf("unknown secondary asymmetric algorithm %q", name)
			}
		}
	}
	if len(sa.Symmetric) > 0 {
		out.Symmetric = out.Symmetric[:0]
		for _, name := range sa.Symmetric {
			switch name {
			case "chacha20poly1305":
				out.Symmetric = append(out.Symmetric, algorithms.SymmetricChaCha20Poly1305)
			case "aes256gcm":
				out.Symmetric = append(out.Symmetric, algorithms.SymmetricAES256GCM)
			default:
				return out, fmt.Errorf("unknown symmetric algorithm %q", name)
			}
		}
	}
	if len(sa.Compression) > 0 {
		out.Compression = out.Compression[:0]
		for _, name := range sa.Compression {
			switch name {
			case "none":
				out.Compression = append(out.Compression, uint8(codec.None))
			case "deflate":
				out.Compression = append(out.Compression, uint8(codec.Deflate))
			case "zstd":
				out.Compression = append(out.Compression, uint8(codec.Zstandard))
			default:
				return out, fmt.Errorf("unknown compression codec %q", name)
			}
		}
	}
	return out, nil
}
