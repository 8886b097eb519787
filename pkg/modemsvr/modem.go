// Package modemsvr implements the modem server: the process that owns the
// Iridium RUDICS modem's serial port, dials out to the RUDICS gateway,
// and relays the resulting data stream to and from the server proxy
// process over a local packet-mode socket.
package modemsvr

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Modem is the behavior the modem server needs from the Iridium RUDICS
// modem: dial out, hang up, check connection state, read the SIM ICCID, and
// move bytes once a call is up.
type Modem interface {
	Dialup(ctx context.Context) error
	Hangup()
	IsConnected() bool
	ICCID() string
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	FlushBoth() error
}

// DialNumber is the RUDICS gateway number dialed to establish a data call.
const DialNumber = "0088160000511"

const (
	dialTimeout   = 60 * time.Second
	atCommandWait = 2 * time.Second
)

// SerialModem drives a Hayes-command Iridium modem over a serial port,
// replacing the original implementation's pyserial-based RudicsModem.
type SerialModem struct {
	port serial.Port
	mu   sync.Mutex

	connected bool
	iccid     string
}

// OpenSerialModem opens the modem's serial device at the given baud rate.
func OpenSerialModem(device string, baud int) (*SerialModem, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("modemsvr: open %s: %w", device, err)
	}
	return &SerialModem{port: port}, nil
}

func (m *SerialModem) sendCommand(cmd string) (string, error) {
	if err := m.port.SetReadTimeout(atCommandWait); err != nil {
		return "", err
	}
	if _, err := m.port.Write([]byte(cmd + "\r")); err != nil {
		return "", err
	}
	reader := bufio.NewReader(m.port)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line), nil
}

// Dialup places an outgoing data call to the RUDICS gateway.
func (m *SerialModem) Dialup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.sendCommand("ATZ"); err != nil {
		return fmt.Errorf("modemsvr: reset modem: %w", err)
	}
	if iccid, err := m.sendCommand("AT+CCID"); err == nil && iccid != "" {
		m.iccid = iccid
	}

	resp, err := m.sendCommand("ATD" + DialNumber)
	if err != nil {
		return fmt.Errorf("modemsvr: dial: %w", err)
	}
	if !strings.Contains(strings.ToUpper(resp), "CONNECT") {
		return fmt.Errorf("modemsvr: dial failed, modem replied %q", resp)
	}
	m.connected = true
	return nil
}

// Hangup drops the current call, if any.
func (m *SerialModem) Hangup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	time.Sleep(time.Second)
	m.sendCommand("+++")
	time.Sleep(time.Second)
	m.sendCommand("ATH")
	m.connected = false
}

// IsConnected reports whether a data call is currently up.
func (m *SerialModem) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ICCID returns the SIM ICCID read during the most recent Dialup.
func (m *SerialModem) ICCID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iccid
}

// Read reads whatever data is immediately available from the modem.
func (m *SerialModem) Read(buf []byte) (int, error) { return m.port.Read(buf) }

// Write sends data to the modem.
func (m *SerialModem) Write(data []byte) (int, error) { return m.port.Write(data) }

// FlushBoth discards any buffered input and output.
func (m *SerialModem) FlushBoth() error {
	if err := m.port.ResetInputBuffer(); err != nil {
		return err
	}
	return m.port.ResetOutputBuffer()
}
