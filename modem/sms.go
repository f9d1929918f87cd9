package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/cellctl/at"
)

// SMS represents a text message stored on the modem.
type SMS struct {
	Index  int    `json:"index"`
	Status string `json:"status"` // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string `json:"sender"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

// Message list filters understood by ListSMS in text mode.
const (
	SMSAll      = "ALL"
	SMSUnread   = "REC UNREAD"
	SMSRead     = "REC READ"
	SMSStUnsent = "STO UNSENT"
	SMSStSent   = "STO SENT"
)

const (
	cmdList   = "+CMGL"
	cmdRead   = "+CMGR"
	cmdDelete = "+CMGD"
	cmdSend   = "+CMGS"
)

// SendSMS sends a text message to the specified recipient and returns the
// message reference assigned by the network.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890").
//
// The command, the "> " prompt, the body and the confirmation are exchanged
// within a single hold of the control line, so no unsolicited poll can
// interleave with them.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (int, error) {
	if m.closed.Load() {
		return 0, ErrAlreadyClosed
	}

	cmd := at.Set(cmdSend, quote(recipient))
	var reply Reply
	err := m.gate.Do(ctx, func() error {
		var err error
		reply, err = m.exchangeWithPrompt(cmd, message)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("SMS send failed: %w", err)
	}

	if len(reply) == 0 {
		return 0, fmt.Errorf("unexpected SMS response: no %s line", cmdSend)
	}
	ref, err := strconv.Atoi(strings.TrimSpace(reply[0]))
	if err != nil {
		return 0, fmt.Errorf("unexpected SMS response: %q", reply[0])
	}
	return ref, nil
}

// ListSMS returns the stored messages matching filter (one of the SMS*
// constants).
func (m *Modem) ListSMS(ctx context.Context, filter string) ([]SMS, error) {
	reply, err := m.Send(ctx, at.Set(cmdList, quote(filter)).Unprefixed())
	if err != nil {
		return nil, err
	}
	return parseMessageList(reply)
}

// parseMessageList splits a +CMGL reply into messages. Every header line is
// followed by the text lines of its message.
func parseMessageList(reply Reply) ([]SMS, error) {
	var (
		list []SMS
		cur  *SMS
		text []string
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			list = append(list, *cur)
		}
		text = nil
	}

	for _, line := range reply {
		if !strings.HasPrefix(line, cmdList) {
			if cur != nil {
				text = append(text, line)
			}
			continue
		}
		flush()

		fields := at.SplitFields(stripMnemonic(line, cmdList))
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed message header %q", line)
		}
		index, ok := fields[0].(int)
		if !ok {
			return nil, fmt.Errorf("malformed message index in %q", line)
		}
		cur = &SMS{
			Index:  index,
			Status: fieldString(fields, 1),
			Sender: fieldString(fields, 2),
			Time:   fieldString(fields, 4),
		}
	}
	flush()
	return list, nil
}

// ReadSMS returns the message stored at index.
func (m *Modem) ReadSMS(ctx context.Context, index int) (SMS, error) {
	reply, err := m.Send(ctx, at.Set(cmdRead, strconv.Itoa(index)).Unprefixed())
	if err != nil {
		return SMS{}, err
	}
	if len(reply) == 0 || !strings.HasPrefix(reply[0], cmdRead) {
		return SMS{}, fmt.Errorf("no message at index %d", index)
	}

	fields := at.SplitFields(stripMnemonic(reply[0], cmdRead))
	return SMS{
		Index:  index,
		Status: fieldString(fields, 0),
		Sender: fieldString(fields, 1),
		Time:   fieldString(fields, 3),
		Text:   strings.Join(reply[1:], "\n"),
	}, nil
}

// DeleteSMS removes the message stored at index.
func (m *Modem) DeleteSMS(ctx context.Context, index int) error {
	return m.expectOK(ctx, at.Set(cmdDelete, strconv.Itoa(index)))
}

func fieldString(fields []any, i int) string {
	if i >= len(fields) {
		return ""
	}
	return fmt.Sprint(fields[i])
}
