// Package proxypkt implements the RUDICS tunnel proxy packet codec shared by
// the modem server and the server proxy. Packets multiplex many local TCP
// streams over the single serial link to the Iridium modem.
package proxypkt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of a proxy packet.
type Type uint8

const (
	Connect Type = iota + 1
	Disconnect
	Passthrough
	Ping
	ICCIDReq
	ICCID
)

func (t Type) String() string {
	switch t {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Passthrough:
		return "PASSTHROUGH"
	case Ping:
		return "PING"
	case ICCIDReq:
		return "ICCID_REQ"
	case ICCID:
		return "ICCID"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxPassthroughDataLen is the largest payload carried by a single PASSTHROUGH
// packet. Larger stream writes are chopped into a series of these.
const MaxPassthroughDataLen = 1024

// header size: src_port(2) + dest_port(2) + type(1) + payload_length(2)
const headerLen = 7

// ErrInvalidFrame is returned by Parse when the buffer doesn't contain a
// complete, well-formed proxy packet.
var ErrInvalidFrame = errors.New("proxypkt: invalid frame")

// Pkt is a parsed proxy packet.
type Pkt struct {
	SrcPort  uint16
	DestPort uint16
	Type     Type
	Payload  []byte
}

// Parse decodes a single proxy packet from buf. buf must contain exactly one
// packet (the caller is responsible for framing, e.g. via the serial link's
// length-prefixed transport).
func Parse(buf []byte) (Pkt, error) {
	if len(buf) < headerLen {
		return Pkt{}, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidFrame, len(buf))
	}
	p := Pkt{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DestPort: binary.BigEndian.Uint16(buf[2:4]),
		Type:     Type(buf[4]),
		Payload:  nil,
	}
	plen := binary.BigEndian.Uint16(buf[5:7])
	switch p.Type {
	case Connect, Disconnect, Ping, ICCIDReq:
		if plen != 0 {
			return Pkt{}, fmt.Errorf("%w: %s must not carry a payload", ErrInvalidFrame, p.Type)
		}
	case Passthrough:
		if plen > MaxPassthroughDataLen {
			return Pkt{}, fmt.Errorf("%w: payload of %d exceeds max %d", ErrInvalidFrame, plen, MaxPassthroughDataLen)
		}
	case ICCID:
		// variable-length ASCII ICCID string, no further bound beyond the frame
	default:
		return Pkt{}, fmt.Errorf("%w: unknown type %d", ErrInvalidFrame, buf[4])
	}
	if len(buf) != headerLen+int(plen) {
		return Pkt{}, fmt.Errorf("%w: declared length %d, got %d", ErrInvalidFrame, plen, len(buf)-headerLen)
	}
	if plen != 0 {
		p.Payload = append([]byte(nil), buf[headerLen:]...)
	}
	return p, nil
}

// Marshal encodes p as a wire-format proxy packet.
func (p Pkt) Marshal() []byte {
	buf := make([]byte, headerLen+len(p.Payload))
	binary.BigEndian.PutUint16(buf[0:2], p.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], p.DestPort)
	buf[4] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(p.Payload)))
	copy(buf[headerLen:], p.Payload)
	return buf
}

// NewConnect builds a CONNECT packet requesting a stream from src to dest.
func NewConnect(src, dest uint16) Pkt { return Pkt{SrcPort: src, DestPort: dest, Type: Connect} }

// NewDisconnect builds a DISCONNECT packet tearing down the (src, dest) stream.
func NewDisconnect(src, dest uint16) Pkt { return Pkt{SrcPort: src, DestPort: dest, Type: Disconnect} }

// NewPing builds a liveness PING packet.
func NewPing() Pkt { return Pkt{Type: Ping} }

// NewICCIDReq builds a request for the modem's SIM ICCID.
func NewICCIDReq() Pkt { return Pkt{Type: ICCIDReq} }

// NewICCID builds an ICCID reply carrying the SIM identifier.
func NewICCID(iccid string) Pkt { return Pkt{Type: ICCID, Payload: []byte(iccid)} }

// NewPassthrough builds a single PASSTHROUGH packet. data must not exceed
// MaxPassthroughDataLen; callers splitting a larger stream write should chunk
// it themselves (see Chunks).
func NewPassthrough(src, dest uint16, data []byte) Pkt {
	return Pkt{SrcPort: src, DestPort: dest, Type: Passthrough, Payload: data}
}

// Chunks splits data into a series of PASSTHROUGH packets no larger than
// MaxPassthroughDataLen each, preserving order.
func Chunks(src, dest uint16, data []byte) []Pkt {
	if len(data) == 0 {
		return nil
	}
	var pkts []Pkt
	for len(data) > 0 {
		n := len(data)
		if n > MaxPassthroughDataLen {
			n = MaxPassthroughDataLen
		}
		pkts = append(pkts, NewPassthrough(src, dest, data[:n]))
		data = data[n:]
	}
	return pkts
}

// StreamKey uniquely identifies an open tunneled stream.
type StreamKey struct {
	SrcPort  uint16
	DestPort uint16
}

// Key returns the stream key identifying p's tunneled stream.
func (p Pkt) Key() StreamKey { return StreamKey{SrcPort: p.SrcPort, DestPort: p.DestPort} }
