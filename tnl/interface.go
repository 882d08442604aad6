package tnl

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nardo/tnlgo/classreg"
	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/event"
	"github.com/nardo/tnlgo/ghost"
	"github.com/nardo/tnlgo/handshake"
	"github.com/nardo/tnlgo/notify"
	"github.com/nardo/tnlgo/puzzle"
	"github.com/nardo/tnlgo/socket"
	"github.com/nardo/tnlgo/wire"
)

// InterfaceConfig is the constructor-argument struct NewNetInterface
// takes: bind-time policy, class negotiation counts, and rate defaults.
// There is no config-file parsing; callers that want one build this
// struct however they like.
type InterfaceConfig struct {
	// PrivateKey, when set, is offered for ECDH key exchange to clients
	// that set WantsKeyExchange.
	PrivateKey *crypto.KeyPair
	// RequiresKeyExchange governs whether this side's own outgoing
	// ChallengeRequest asks for key exchange when acting as a client.
	RequiresKeyExchange bool
	// AllowConnections gates whether incoming ChallengeRequests are
	// answered at all.
	AllowConnections bool

	// Certificate, when set, is sent in ChallengeResponse to clients that
	// set WantsCertificate, authenticating this host's PrivateKey to
	// clients that verify it against a TrustedAuthorityKey of their own.
	Certificate *crypto.Certificate
	// TrustedAuthorityKey, when set, is required of the host's
	// certificate when this side connects as a client: the outgoing
	// ChallengeRequest sets WantsCertificate, and a response that doesn't
	// verify rejects the handshake.
	TrustedAuthorityKey *[32]byte

	Group                 uint32
	LocalObjectClassCount uint16
	LocalEventClassCount  uint16

	Rate        notify.RateParams
	IdleTimeout time.Duration
}

// NetInterface is TNL's application-facing dispatcher: a socket.Interface
// plus the handshake policy, puzzle manager, and class registry needed to
// accept and originate connections.
type NetInterface struct {
	Sock     *socket.Interface
	Registry *classreg.Registry
	Config   InterfaceConfig

	puzzleMgr    *puzzle.Manager
	serverSecret []byte

	// OnConnectionEstablished fires once a connection reaches Connected,
	// on both the accepting host and the originating client.
	OnConnectionEstablished func(nc *NetConnection)
	// OnConnectionRejected fires when a client's outgoing handshake is
	// rejected or times out before reaching Connected.
	OnConnectionRejected func(addr wire.Address, reason string)
	// OnConnectRequest lets the host application inspect a ConnectRequest's
	// application payload and veto it; a nil hook accepts every request
	// that already passed puzzle and class-version negotiation.
	OnConnectRequest func(addr wire.Address, payload []byte) (acceptPayload []byte, accept bool)

	log *logrus.Entry
}

// NewNetInterface wraps sock with handshake policy cfg, publishing
// registry for both the object and event class groups.
func NewNetInterface(sock *socket.Interface, registry *classreg.Registry, cfg InterfaceConfig, now time.Time) (*NetInterface, error) {
	mgr, err := puzzle.NewManager(now)
	if err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if cfg.Rate == (notify.RateParams{}) {
		cfg.Rate = notify.DefaultRateParams()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	ni := &NetInterface{
		Sock:         sock,
		Registry:     registry,
		Config:       cfg,
		puzzleMgr:    mgr,
		serverSecret: secret,
		log:          logrus.WithField("component", "net_interface"),
	}
	sock.OnUnknownDatagram = ni.handleUnknownDatagram
	return ni, nil
}

// Tick advances the puzzle manager's nonce rotation and the underlying
// socket.Interface's connection/timeout bookkeeping. Call once per
// application tick.
func (ni *NetInterface) Tick(now time.Time) {
	if err := ni.puzzleMgr.Tick(now); err != nil {
		ni.log.WithError(err).Warn("puzzle manager rotation failed")
	}
	ni.Sock.ProcessSocket(now)
	ni.Sock.ProcessConnections(now)
}

func randomSeq() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Connect begins an outgoing handshake to hostAddr. Completion (or
// rejection) is reported via OnConnectionEstablished / OnConnectionRejected
// as the pending handshake is driven forward by subsequent Tick calls.
func (ni *NetInterface) Connect(now time.Time, hostAddr wire.Address) error {
	init := handshake.NewInitiator(hostAddr, ni.Config.RequiresKeyExchange, ni.Config.TrustedAuthorityKey != nil)
	init.TrustedAuthorityKey = ni.Config.TrustedAuthorityKey
	init.LocalObjectClassCount = ni.Config.LocalObjectClassCount
	init.LocalEventClassCount = ni.Config.LocalEventClassCount
	seq, err := randomSeq()
	if err != nil {
		return err
	}
	init.InitialSendSeq = seq

	pkt, err := init.Begin(now)
	if err != nil {
		return err
	}
	pc := &pendingConnect{iface: ni, initiator: init, addr: hostAddr}
	ni.Sock.AddPending(pc)
	return ni.Sock.Send(hostAddr, pkt)
}

// pendingConnect drives the initiator side of the handshake state
// machine while socket.Interface keeps it in its pending list; once the
// handshake reaches Connected it hands off to a full NetConnection.
type pendingConnect struct {
	iface     *NetInterface
	initiator *handshake.Initiator
	addr      wire.Address
	done      bool
}

func (pc *pendingConnect) RemoteAddress() wire.Address { return pc.addr }

func (pc *pendingConnect) HandleRawPacket(now time.Time, data []byte) {
	if pc.done || len(data) == 0 {
		return
	}
	isConnectedData, control := wire.Classify(data[0])
	if isConnectedData {
		return
	}
	switch control {
	case wire.ControlChallengeResponse:
		resp, err := handshake.DecodeChallengeResponse(data)
		if err != nil {
			return
		}
		pc.initiator.HandleChallengeResponse(now, resp)
		if pc.initiator.Phase == handshake.Rejected {
			pc.reject("Certificate")
			return
		}

	case wire.ControlConnectReject:
		rej, err := handshake.DecodeConnectReject(data)
		if err != nil {
			return
		}
		pkt, err := pc.initiator.HandleConnectReject(now, rej)
		if pc.initiator.Phase == handshake.Rejected {
			pc.reject(rej.Reason)
			return
		}
		if err == nil && pkt != nil {
			_ = pc.iface.Sock.Send(pc.addr, pkt)
		}

	case wire.ControlPunch:
		if _, err := handshake.DecodePunch(data); err != nil {
			return
		}
		if pkt := pc.initiator.AdvanceFromPunch(now); pkt != nil {
			_ = pc.iface.Sock.Send(pc.addr, pkt)
		}

	case wire.ControlConnectAccept:
		acc, err := handshake.DecodeConnectAccept(data)
		if err != nil {
			return
		}
		if !pc.initiator.HandleConnectAccept(acc) {
			return
		}
		pc.complete(now, acc)
	}
}

func (pc *pendingConnect) Tick(now time.Time) (timedOut bool) {
	if pc.done {
		return true
	}
	pkt, ok := pc.initiator.Tick(now)
	if pc.initiator.Phase == handshake.TimedOut {
		pc.reject("TimedOut")
		return true
	}
	if ok {
		_ = pc.iface.Sock.Send(pc.addr, pkt)
	}
	return false
}

func (pc *pendingConnect) reject(reason string) {
	if pc.done {
		return
	}
	pc.done = true
	if pc.iface.OnConnectionRejected != nil {
		pc.iface.OnConnectionRejected(pc.addr, reason)
	}
}

func (pc *pendingConnect) complete(now time.Time, acc handshake.ConnectAccept) {
	if pc.done {
		return
	}
	pc.done = true

	var cipher *crypto.SymmetricCipher
	if pc.initiator.Params.UsingCrypto {
		cipher = pc.initiator.Params.DeriveSymmetricCipher()
	}
	nc := newNetConnection(pc.iface, now, pc.addr, event.RoleClient, ghost.RoleClient, acc.InitialSendSeq, cipher)

	// PromotePending removes pc from the pending list and adds it active
	// under its own address; immediately overwriting that slot with nc
	// hands the address off to the real connection object without ever
	// leaving the table without an entry for addr.
	pc.iface.Sock.PromotePending(pc)
	pc.iface.Sock.AddActive(nc)

	if pc.iface.OnConnectionEstablished != nil {
		pc.iface.OnConnectionEstablished(nc)
	}
}

// handleUnknownDatagram is the host side of the handshake: stateless
// until a ConnectRequest's puzzle solution and class negotiation both
// check out, at which point a full NetConnection is created directly —
// there is no pending-connection object on the accepting side.
func (ni *NetInterface) handleUnknownDatagram(now time.Time, from wire.Address, data []byte) {
	if len(data) == 0 {
		return
	}
	isConnectedData, control := wire.Classify(data[0])
	if isConnectedData {
		return
	}

	switch control {
	case wire.ControlChallengeRequest:
		ni.handleChallengeRequest(from, data)
	case wire.ControlConnectRequest:
		ni.handleConnectRequest(now, from, data)
	}
}

func (ni *NetInterface) handleChallengeRequest(from wire.Address, data []byte) {
	if !ni.Config.AllowConnections {
		return
	}
	req, err := handshake.DecodeChallengeRequest(data)
	if err != nil {
		return
	}
	var pub *[32]byte
	if ni.Config.PrivateKey != nil {
		pub = &ni.Config.PrivateKey.Public
	}
	resp := handshake.HandleChallengeRequest(req, from, ni.serverSecret, ni.puzzleMgr, pub, ni.Config.Certificate)
	_ = ni.Sock.Send(from, resp.Encode())
}

func (ni *NetInterface) handleConnectRequest(now time.Time, from wire.Address, data []byte) {
	req, err := handshake.DecodeConnectRequest(data)
	if err != nil {
		return
	}

	hostSeq, err := randomSeq()
	if err != nil {
		return
	}
	accept, reject := handshake.HandleConnectRequest(req, from, ni.serverSecret, ni.puzzleMgr, hostSeq)
	if reject != nil {
		_ = ni.Sock.Send(from, reject.Encode())
		return
	}

	if _, err := handshake.NegotiateClassCount(ni.Registry, ni.Config.Group, classreg.TypeObject, int(ni.Config.LocalObjectClassCount), int(req.ObjectClassCount)); err != nil {
		_ = ni.Sock.Send(from, handshake.ConnectReject{ClientNonce: req.ClientNonce, Reason: "Version"}.Encode())
		return
	}
	if _, err := handshake.NegotiateClassCount(ni.Registry, ni.Config.Group, classreg.TypeEvent, int(ni.Config.LocalEventClassCount), int(req.EventClassCount)); err != nil {
		_ = ni.Sock.Send(from, handshake.ConnectReject{ClientNonce: req.ClientNonce, Reason: "Version"}.Encode())
		return
	}

	if ni.OnConnectRequest != nil {
		payload, ok := ni.OnConnectRequest(from, req.Payload)
		if !ok {
			_ = ni.Sock.Send(from, handshake.ConnectReject{ClientNonce: req.ClientNonce, Reason: "Refused"}.Encode())
			return
		}
		accept.Payload = payload
	}

	var cipher *crypto.SymmetricCipher
	if req.HasPublicKey && ni.Config.PrivateKey != nil {
		secret, err := handshake.DeriveConnectionSecret(req.PublicKey, ni.Config.PrivateKey.Private)
		if err != nil {
			_ = ni.Sock.Send(from, handshake.ConnectReject{ClientNonce: req.ClientNonce, Reason: "KeyExchange"}.Encode())
			return
		}
		cipher = crypto.NewSymmetricCipher(secret)
	}

	nc := newNetConnection(ni, now, from, event.RoleServer, ghost.RoleServer, req.InitialSendSeq, cipher)
	ni.Sock.AddActive(nc)
	_ = ni.Sock.Send(from, accept.Encode())

	if ni.OnConnectionEstablished != nil {
		ni.OnConnectionEstablished(nc)
	}
}
