package notify

import (
	"time"

	"github.com/nardo/tnlgo/bitstream"
)

// RateParams is the four numbers each side publishes for the send-rate
// model.
type RateParams struct {
	MinSendPeriod    time.Duration
	MinRecvPeriod    time.Duration
	MaxSendBandwidth uint32 // bytes/sec
	MaxRecvBandwidth uint32 // bytes/sec
}

// DefaultRateParams is the canonical fixed-rate model: a fixed send/recv
// period and bandwidth cap rather than an adaptive congestion-control
// scheme.
func DefaultRateParams() RateParams {
	return RateParams{
		MinSendPeriod:    96 * time.Millisecond,
		MinRecvPeriod:    96 * time.Millisecond,
		MaxSendBandwidth: 2500,
		MaxRecvBandwidth: 2500,
	}
}

// MaxDatagramSize bounds the negotiated currentPacketSendSize.
const MaxDatagramSize = 1480

// MaxSendDelayUnits is the largest value the quantized sendDelay field
// can carry, in units of 8ms.
const MaxSendDelayUnits = 2047

const sendDelayUnitMillis = 8

const headerSeqBits = 32

// Connection is one NotifyProtocol instance: it decides when to send,
// frames the shared header, negotiates the rate model, and reports
// delivery in send order.
type Connection struct {
	local  RateParams
	remote RateParams // last rate block received from the peer

	currentSendPeriod time.Duration
	currentSendSize   uint32

	lastUpdateTime  time.Time
	sendDelayCredit time.Duration

	nextSendSeq uint32
	fifo        *notifyFIFO

	haveRecvAny     bool
	highestRecvSeq  uint32
	recvMask        uint32
	lastRecvTime    time.Time
	connectionStart time.Time

	rtt               time.Duration
	pendingRateChange bool

	// OnPacketNotify is invoked once per packet this side sent, in send
	// order, reporting whether the peer's ACK bitmap showed it delivered.
	OnPacketNotify func(sequence uint32, delivered bool)
}

// NewConnection creates a NotifyProtocol instance publishing local as its
// own rate parameters. startSeq sets the first sequence number this side
// will send, so a reconnection (or the handshake's negotiated
// InitialSendSeq) doesn't reuse a low sequence range a stale peer entry
// might still recognize.
func NewConnection(local RateParams, now time.Time, startSeq uint32) *Connection {
	c := &Connection{
		local:           local,
		fifo:            newNotifyFIFO(),
		connectionStart: now,
		nextSendSeq:     startSeq,
	}
	c.currentSendPeriod = local.MinSendPeriod
	c.currentSendSize = clampSendSize(local.MaxSendBandwidth, local.MinSendPeriod)
	return c
}

func clampSendSize(bandwidth uint32, period time.Duration) uint32 {
	size := uint32(float64(bandwidth) * period.Seconds())
	if size > MaxDatagramSize {
		size = MaxDatagramSize
	}
	return size
}

// RTT returns the current smoothed round-trip time estimate.
func (c *Connection) RTT() time.Duration { return c.rtt }

// CurrentSendPeriod returns the negotiated minimum gap between sends.
func (c *Connection) CurrentSendPeriod() time.Duration { return c.currentSendPeriod }

// CurrentSendSize returns the negotiated maximum payload size.
func (c *Connection) CurrentSendSize() uint32 { return c.currentSendSize }

// RequestRateChange marks the local rate parameters as changed, so the
// next outgoing packet piggy-backs a fresh rate block.
func (c *Connection) RequestRateChange(local RateParams) {
	c.local = local
	c.currentSendPeriod = maxDuration(c.local.MinSendPeriod, c.remote.MinRecvPeriod)
	c.currentSendSize = negotiatedSendSize(c.local, c.remote, c.currentSendPeriod)
	c.pendingRateChange = true
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func negotiatedSendSize(local, remote RateParams, period time.Duration) uint32 {
	bandwidth := local.MaxSendBandwidth
	if remote.MaxRecvBandwidth > 0 && remote.MaxRecvBandwidth < bandwidth {
		bandwidth = remote.MaxRecvBandwidth
	}
	return clampSendSize(bandwidth, period)
}

// readyToSend implements check_packet_send step 1.
func (c *Connection) readyToSend(now time.Time, force bool) bool {
	if !c.lastUpdateTime.IsZero() {
		elapsed := now.Sub(c.lastUpdateTime)
		if !force && elapsed+c.sendDelayCredit < c.currentSendPeriod {
			return false
		}
		credit := elapsed + c.sendDelayCredit - c.currentSendPeriod
		if credit > time.Second {
			credit = time.Second
		}
		if credit < 0 {
			credit = 0
		}
		c.sendDelayCredit = credit
	}
	c.lastUpdateTime = now
	return true
}

// WindowFull reports whether WindowSize packets are already in flight
// awaiting ACK/NACK resolution.
func (c *Connection) WindowFull() bool {
	return c.fifo.len() >= WindowSize
}

// BuildOutgoingPacket runs check_packet_send end to end: if the timing
// gate and window allow a send, it allocates the next sequence number,
// records a notifyEntry, writes the shared header into a fresh
// BitStream, calls writePacket to let the upper layer fill in the rest,
// and returns the stream ready for hashing/encryption by the caller. ok
// is false if nothing should be sent this tick.
func (c *Connection) BuildOutgoingPacket(now time.Time, force, hasDataToSend bool, writePacket func(bs *bitstream.BitStream, sequence uint32)) (bs *bitstream.BitStream, ok bool) {
	if !c.readyToSend(now, force) {
		return nil, false
	}
	if c.WindowFull() {
		return nil, false
	}
	if !force && !hasDataToSend {
		return nil, false
	}

	seq := c.nextSendSeq
	c.nextSendSeq++
	rateChanged := c.pendingRateChange
	c.fifo.push(notifyEntry{sequence: seq, sendTime: now, rateChanged: rateChanged})
	c.pendingRateChange = false

	buf := make([]byte, MaxDatagramSize)
	bs = bitstream.NewWithBuffer(buf)
	c.writeHeader(bs, rateChanged, now)
	if writePacket != nil {
		writePacket(bs, seq)
	}
	return bs, true
}

func (c *Connection) writeHeader(bs *bitstream.BitStream, rateChanged bool, now time.Time) {
	bs.WriteInt(c.nextSendSeq-1, headerSeqBits)
	bs.WriteInt(c.highestRecvSeq, headerSeqBits)
	bs.WriteInt(c.recvMask, headerSeqBits)
	bs.WriteFlag(rateChanged)
	if rateChanged {
		bs.WriteInt(uint32(c.local.MinSendPeriod.Milliseconds()), headerSeqBits)
		bs.WriteInt(uint32(c.local.MinRecvPeriod.Milliseconds()), headerSeqBits)
		bs.WriteInt(c.local.MaxSendBandwidth, headerSeqBits)
		bs.WriteInt(c.local.MaxRecvBandwidth, headerSeqBits)
	}

	var delayUnits uint32
	if !c.lastRecvTime.IsZero() {
		gap := now.Sub(c.lastRecvTime)
		delayUnits = uint32(gap.Milliseconds() / sendDelayUnitMillis)
		if delayUnits > MaxSendDelayUnits {
			delayUnits = MaxSendDelayUnits
		}
	}
	bs.WriteRangedU32(delayUnits, 0, MaxSendDelayUnits)
}

// ReadIncomingPacket parses the shared header, updates receive tracking
// and the rate model, resolves any newly-decidable ACK/NACK entries (in
// send order, via OnPacketNotify), updates the RTT estimate, and finally
// calls readPacket so the upper layer can consume the rest of the
// stream.
func (c *Connection) ReadIncomingPacket(now time.Time, bs *bitstream.BitStream, readPacket func(bs *bitstream.BitStream)) error {
	seq := bs.ReadInt(headerSeqBits)
	ackSeq := bs.ReadInt(headerSeqBits)
	ackMask := bs.ReadInt(headerSeqBits)
	rateChanged := bs.ReadFlag()

	if rateChanged {
		var remote RateParams
		remote.MinSendPeriod = time.Duration(bs.ReadInt(headerSeqBits)) * time.Millisecond
		remote.MinRecvPeriod = time.Duration(bs.ReadInt(headerSeqBits)) * time.Millisecond
		remote.MaxSendBandwidth = bs.ReadInt(headerSeqBits)
		remote.MaxRecvBandwidth = bs.ReadInt(headerSeqBits)
		c.remote = remote
		c.currentSendPeriod = maxDuration(c.local.MinSendPeriod, c.remote.MinRecvPeriod)
		c.currentSendSize = negotiatedSendSize(c.local, c.remote, c.currentSendPeriod)
	}

	delayUnits := bs.ReadRangedU32(0, MaxSendDelayUnits)
	peerSendDelay := time.Duration(delayUnits) * sendDelayUnitMillis * time.Millisecond

	c.recordReceived(seq, now)
	c.resolveAcks(ackSeq, ackMask, peerSendDelay, now)

	if readPacket != nil {
		readPacket(bs)
	}
	return bs.Error()
}

func (c *Connection) recordReceived(seq uint32, now time.Time) {
	switch {
	case !c.haveRecvAny:
		c.haveRecvAny = true
		c.highestRecvSeq = seq
		c.recvMask = 1
	case seq == c.highestRecvSeq:
		c.recvMask |= 1
	case seq > c.highestRecvSeq:
		shift := seq - c.highestRecvSeq
		if shift >= WindowSize {
			c.recvMask = 0
		} else {
			c.recvMask <<= shift
		}
		c.recvMask |= 1
		c.highestRecvSeq = seq
	default:
		shift := c.highestRecvSeq - seq
		if shift < WindowSize {
			c.recvMask |= 1 << shift
		}
	}
	c.lastRecvTime = now
}

func (c *Connection) resolveAcks(ackSeq, ackMask uint32, peerSendDelay time.Duration, now time.Time) {
	for {
		entry, ok := c.fifo.front()
		if !ok || entry.sequence > ackSeq {
			return
		}
		c.fifo.pop()

		diff := ackSeq - entry.sequence
		delivered := diff == 0 || (diff < WindowSize && ackMask&(1<<diff) != 0)

		if delivered {
			sample := now.Sub(entry.sendTime) - peerSendDelay
			if sample < 0 {
				sample = 0
			}
			if c.rtt == 0 {
				c.rtt = sample
			} else {
				c.rtt = time.Duration(0.9*float64(c.rtt) + 0.1*float64(sample))
			}
		} else if entry.rateChanged {
			c.pendingRateChange = true
		}

		if c.OnPacketNotify != nil {
			c.OnPacketNotify(entry.sequence, delivered)
		}
	}
}

// IsTimedOut reports whether no packet has been received within
// idleThreshold of now, measured from either the last received packet or
// connection creation if nothing has arrived yet.
func (c *Connection) IsTimedOut(now time.Time, idleThreshold time.Duration) bool {
	last := c.lastRecvTime
	if last.IsZero() {
		last = c.connectionStart
	}
	return now.Sub(last) > idleThreshold
}
