package proxypkt

import (
	"bytes"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	for _, p := range []Pkt{
		NewConnect(40000, 22),
		NewDisconnect(40000, 22),
		NewPing(),
		NewICCIDReq(),
		NewICCID("8901260123456789012"),
		NewPassthrough(40000, 22, []byte("hi")),
	} {
		buf := p.Marshal()
		got, err := Parse(buf)
		if err != nil {
			t.Fatalf("Parse(%v): %v", p, err)
		}
		if got.SrcPort != p.SrcPort || got.DestPort != p.DestPort || got.Type != p.Type || !bytes.Equal(got.Payload, p.Payload) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, buf := range [][]byte{
		nil,
		{0, 1},
		append(NewConnect(1, 2).Marshal(), 'x'), // CONNECT with trailing payload byte but wrong length
	} {
		if _, err := Parse(buf); err == nil {
			t.Errorf("Parse(%x): expected error, got nil", buf)
		}
	}

	// CONNECT with a non-zero declared payload length
	buf := NewConnect(1, 2).Marshal()
	buf[5] = 0
	buf[6] = 1
	buf = append(buf, 0)
	if _, err := Parse(buf); err == nil {
		t.Errorf("Parse control packet with payload: expected error")
	}
}

func TestParseUnknownType(t *testing.T) {
	buf := NewPing().Marshal()
	buf[4] = 0xFF
	if _, err := Parse(buf); err == nil {
		t.Errorf("Parse unknown type: expected error")
	}
}

func TestPassthroughLengthIsBigEndian(t *testing.T) {
	// mirrors the instpkt example frame format but exercises proxypkt's own
	// wire order assumptions (big-endian length fields)
	p := NewPassthrough(40000, 22, []byte("hi"))
	buf := p.Marshal()
	if len(buf) != headerLen+2 {
		t.Fatalf("unexpected length %d", len(buf))
	}
	if buf[5] != 0 || buf[6] != 2 {
		t.Errorf("expected big-endian length 0x0002, got %02x%02x", buf[5], buf[6])
	}
}

func TestChunks(t *testing.T) {
	data := bytes.Repeat([]byte("x"), MaxPassthroughDataLen*2+3)
	pkts := Chunks(1, 2, data)
	if len(pkts) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(pkts))
	}
	var got []byte
	for _, p := range pkts {
		if p.Key() != (StreamKey{SrcPort: 1, DestPort: 2}) {
			t.Errorf("chunk has wrong key: %+v", p.Key())
		}
		got = append(got, p.Payload...)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("chunked data does not reassemble to original")
	}
	if len(Chunks(1, 2, nil)) != 0 {
		t.Errorf("expected no chunks for empty data")
	}
}
