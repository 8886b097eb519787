package instpkt

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSetPowerStateExampleFrame(t *testing.T) {
	want, err := hex.DecodeString("55AA33CC0000000220010021")
	if err != nil {
		t.Fatal(err)
	}
	p := SetPowerState(PowerLow)
	got := p.Marshal()
	if !bytes.Equal(got, want) {
		t.Fatalf("Marshal() = % X, want % X", got, want)
	}

	parsed, err := Parse(got)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type != SetPowerStateCmd || !bytes.Equal(parsed.Data, []byte{0x01}) {
		t.Errorf("Parse() = %+v, want type=0x20 data=[0x01]", parsed)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, p := range []Pkt{
		SoftReset(),
		HardReset(),
		QueryStatus(),
		SetPowerState(PowerFull),
		ReportStatus([4]byte{0, 0, 0, 0x01}),
		ReportBatch([]byte{1, 2, 3, 4, 5}),
		UploadDSPImage(bytes.Repeat([]byte{0xAB}, 37)),
	} {
		buf := p.Marshal()
		got, err := Parse(buf)
		if err != nil {
			t.Fatalf("Parse(%v): %v", p, err)
		}
		if got.Type != p.Type || !bytes.Equal(got.Data, p.Data) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestReportStatusCarriesPayload(t *testing.T) {
	// Open Question (a): the original ReportStatusMsgPkt/ReportBatchMsgPkt
	// silently dropped their argument. This codec must not repeat that bug.
	p := ReportStatus([4]byte{0x11, 0x22, 0x33, 0x44})
	if !bytes.Equal(p.Data, []byte{0x11, 0x22, 0x33, 0x44}) {
		t.Fatalf("ReportStatus dropped its payload: %+v", p)
	}
	b := ReportBatch([]byte{9, 9, 9})
	if !bytes.Equal(b.Data, []byte{9, 9, 9}) {
		t.Fatalf("ReportBatch dropped its payload: %+v", b)
	}
}

func TestParseRejectsBadSync(t *testing.T) {
	buf := SoftReset().Marshal()
	buf[3] = 0x00
	if _, err := Parse(buf); err == nil {
		t.Error("expected error for corrupted sync code")
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	buf := SoftReset().Marshal()
	buf[7]-- // decrement length LSB
	if _, err := Parse(buf); err == nil {
		t.Error("expected error for corrupted length")
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	buf := SetPowerState(PowerLow).Marshal()
	buf[len(buf)-1] ^= 0xFF
	if _, err := Parse(buf); err == nil {
		t.Error("expected error for corrupted checksum")
	}
}

func TestParseRejectsShortFrame(t *testing.T) {
	if _, err := Parse([]byte{0x55, 0xAA}); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestParseRejectsWrongLengthForType(t *testing.T) {
	// SET_POWER_STATE_CMD must carry exactly 1 data byte.
	buf := Pkt{Type: SetPowerStateCmd, Data: []byte{1, 2}}.Marshal()
	if _, err := Parse(buf); err == nil {
		t.Error("expected error for SET_POWER_STATE_CMD with 2 data bytes")
	}
}
