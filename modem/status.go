package modem

import (
	"fmt"
	"io"

	"go.uber.org/atomic"
)

// Status is the connection telemetry of a modem. It is written by the
// notification handlers and by SignalStrength, and may be read from any
// goroutine at any time. Fields are independent: a reader can observe an
// update of one field before an update of another that happened earlier.
type Status struct {
	rssi       atomic.Int64
	uplink     atomic.Int64
	downlink   atomic.Int64
	bytesTx    atomic.Int64
	bytesRx    atomic.Int64
	linkUptime atomic.Int64
	mode       atomic.String
}

// StatusSnapshot is a copy of Status taken field by field.
type StatusSnapshot struct {
	RSSI       int    `json:"rssi"`
	Uplink     int    `json:"uplink"`
	Downlink   int    `json:"downlink"`
	BytesTx    int    `json:"bytes_tx"`
	BytesRx    int    `json:"bytes_rx"`
	LinkUptime int    `json:"link_uptime"`
	Mode       string `json:"mode,omitempty"`
}

// RSSI returns the last signal strength read from the modem.
func (s *Status) RSSI() int { return int(s.rssi.Load()) }

// Mode returns the network mode; ok is false until a mode notice arrived.
func (s *Status) Mode() (mode string, ok bool) {
	mode = s.mode.Load()
	return mode, mode != ""
}

// SetRSSI records a signal strength.
func (s *Status) SetRSSI(v int) { s.rssi.Store(int64(v)) }

// SetMode records the network mode name.
func (s *Status) SetMode(mode string) { s.mode.Store(mode) }

// SetFlow records a flow report: link uptime in seconds, current rates in
// bytes per second and byte counters since the link came up.
func (s *Status) SetFlow(uptime, uplink, downlink, tx, rx int) {
	s.linkUptime.Store(int64(uptime))
	s.uplink.Store(int64(uplink))
	s.downlink.Store(int64(downlink))
	s.bytesTx.Store(int64(tx))
	s.bytesRx.Store(int64(rx))
}

func (s *Status) Snapshot() StatusSnapshot {
	mode, _ := s.Mode()
	return StatusSnapshot{
		RSSI:       int(s.rssi.Load()),
		Uplink:     int(s.uplink.Load()),
		Downlink:   int(s.downlink.Load()),
		BytesTx:    int(s.bytesTx.Load()),
		BytesRx:    int(s.bytesRx.Load()),
		LinkUptime: int(s.linkUptime.Load()),
		Mode:       mode,
	}
}

// Report writes a human readable status table.
func (s *Status) Report(w io.Writer) error {
	snap := s.Snapshot()
	mode := snap.Mode
	if mode == "" {
		mode = "unknown"
	}
	rows := []struct {
		label string
		value any
	}{
		{"Signal Strength", snap.RSSI},
		{"Bytes rx", snap.BytesRx},
		{"Bytes tx", snap.BytesTx},
		{"Uplink (B/s)", snap.Uplink},
		{"Downlink (B/s)", snap.Downlink},
		{"Seconds uptime", snap.LinkUptime},
		{"Mode", mode},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%20s : %5v\n", r.label, r.value); err != nil {
			return err
		}
	}
	return nil
}
