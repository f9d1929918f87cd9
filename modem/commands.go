package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/cellctl/at"
)

// SignalStrength queries AT+CSQ, stores the RSSI in Status and returns it.
// 99 means not known or not detectable.
func (m *Modem) SignalStrength(ctx context.Context) (int, error) {
	reply, err := m.Send(ctx, at.Run(at.CmdSignal))
	if err != nil {
		return 0, err
	}
	if len(reply) == 0 {
		return 0, fmt.Errorf("%s: empty reply", at.CmdSignal)
	}
	fields := at.SplitFields(reply[0])
	rssi, ok := fields[0].(int)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected reply %q", at.CmdSignal, reply[0])
	}
	m.status.SetRSSI(rssi)
	return rssi, nil
}

// IMEI returns the product serial number (AT+CGSN).
func (m *Modem) IMEI(ctx context.Context) (string, error) {
	return m.identity(ctx, "+CGSN")
}

// Manufacturer returns the manufacturer identification (AT+CGMI).
func (m *Modem) Manufacturer(ctx context.Context) (string, error) {
	return m.identity(ctx, "+CGMI")
}

// Model returns the model identification (AT+CGMM).
func (m *Modem) Model(ctx context.Context) (string, error) {
	return m.identity(ctx, "+CGMM")
}

// Revision returns the firmware revision (AT+CGMR).
func (m *Modem) Revision(ctx context.Context) (string, error) {
	return m.identity(ctx, "+CGMR")
}

// identity runs an identification command. Most modems answer with the bare
// value, some repeat the mnemonic; both are accepted.
func (m *Modem) identity(ctx context.Context, mnemonic string) (string, error) {
	reply, err := m.Send(ctx, at.Run(mnemonic).Unprefixed())
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("%s: empty reply", mnemonic)
	}
	value := reply[0]
	if strings.HasPrefix(value, mnemonic) {
		value = stripMnemonic(value, mnemonic)
	}
	return strings.Trim(value, `"`), nil
}

// PINStatus returns the SIM state reported by AT+CPIN?, e.g. "READY" or
// "SIM PIN".
func (m *Modem) PINStatus(ctx context.Context) (string, error) {
	reply, err := m.Send(ctx, at.Get(at.CmdSimStatus))
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("%s: empty reply", at.CmdSimStatus)
	}
	return strings.TrimSpace(reply[0]), nil
}

// EnterPIN unlocks the SIM.
func (m *Modem) EnterPIN(ctx context.Context, pin string) error {
	return m.expectOK(ctx, at.Set(at.CmdSimStatus, quote(pin)))
}

// Hangup ends the current call (ATH).
func (m *Modem) Hangup(ctx context.Context) error {
	return m.expectOK(ctx, at.Run("H"))
}

// EnableNewMessageIndications asks the modem to report stored messages
// with +CMTI notices.
func (m *Modem) EnableNewMessageIndications(ctx context.Context) error {
	return m.expectOK(ctx, at.Set("+CNMI", "2,1,0,0,0"))
}

func quote(s string) string {
	return `"` + s + `"`
}
