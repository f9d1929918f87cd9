package modem

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"i4.energy/across/cellctl/at"
)

// Handler reacts to one unsolicited line. Handlers run on the dispatcher
// goroutine, one at a time, and must return in bounded time.
type Handler func(m *Modem, line string)

// Rule pairs a pattern with the handler run for the lines it matches.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Handler Handler
}

// RuleTable is an ordered list of rules. The first matching rule wins; a
// line no rule matches goes to Fallback (NullHandler when nil).
type RuleTable struct {
	Rules    []Rule
	Fallback Handler
}

// Match returns the first rule matching line.
func (t *RuleTable) Match(line string) (Rule, bool) {
	for _, r := range t.Rules {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

// Dispatch runs exactly one handler for line and returns the name of the
// matched rule, or "" when the fallback ran.
func (t *RuleTable) Dispatch(m *Modem, line string) string {
	if r, ok := t.Match(line); ok {
		r.Handler(m, line)
		return r.Name
	}
	if t.Fallback != nil {
		t.Fallback(m, line)
	}
	return ""
}

// Append returns a copy of t with rules added after the existing ones.
func (t *RuleTable) Append(rules ...Rule) *RuleTable {
	return &RuleTable{
		Rules:    append(append([]Rule{}, t.Rules...), rules...),
		Fallback: t.Fallback,
	}
}

// Prepend returns a copy of t with rules tried before the existing ones.
func (t *RuleTable) Prepend(rules ...Rule) *RuleTable {
	return &RuleTable{
		Rules:    append(append([]Rule{}, rules...), t.Rules...),
		Fallback: t.Fallback,
	}
}

// Rule names of the default table.
const (
	RuleIncomingCall = "incoming call"
	RuleNewLine      = "new line"
	RuleEmptyLine    = "empty line"
	RuleBoot         = "boot update"
	RuleNewSMS       = "new sms"
	RuleMode         = "mode update"
	RuleRSSI         = "rssi update"
	RuleFlowReport   = "flow report"
)

// DefaultRuleTable returns the standard table: incoming call, blank CRLF
// line, empty line (read timeout), boot notice, new SMS, mode change,
// signal strength change and flow report, in that order.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		Rules: []Rule{
			{Name: RuleIncomingCall, Pattern: regexp.MustCompile(`^RING\r\n`), Handler: IncomingCallHandler},
			{Name: RuleNewLine, Pattern: regexp.MustCompile(`^\r\n$`), Handler: NullHandler},
			{Name: RuleEmptyLine, Pattern: regexp.MustCompile(`^$`), Handler: NullHandler},
			{Name: RuleBoot, Pattern: regexp.MustCompile(`^\^BOOT:`), Handler: NullHandler},
			{Name: RuleNewSMS, Pattern: regexp.MustCompile(`^\+CMTI:`), Handler: NewMessageHandler},
			{Name: RuleMode, Pattern: regexp.MustCompile(`^\^MODE:`), Handler: ModeHandler},
			{Name: RuleRSSI, Pattern: regexp.MustCompile(`^\^RSSI:`), Handler: RSSIHandler},
			{Name: RuleFlowReport, Pattern: regexp.MustCompile(`^\^DSFLOWRPT:`), Handler: FlowReportHandler},
		},
		Fallback: NullHandler,
	}
}

// NullHandler ignores the line.
func NullHandler(*Modem, string) {}

// IncomingCallHandler reports a RING.
func IncomingCallHandler(m *Modem, line string) {
	m.logger.Info("incoming call")
	m.emit(Event{Kind: EventIncomingCall, Line: at.Trim(line)})
}

// NewMessageHandler reports a +CMTI new message indication.
func NewMessageHandler(m *Modem, line string) {
	ev := Event{Kind: EventNewMessage, Line: at.Trim(line)}
	fields := at.SplitFields(strings.TrimPrefix(ev.Line, at.UrcNewMsg))
	if len(fields) >= 2 {
		ev.Storage, _ = fields[0].(string)
		ev.Index, _ = fields[1].(int)
	}
	m.logger.Info("new message arrived", "storage", ev.Storage, "index", ev.Index)
	m.emit(ev)
}

// RSSIHandler refreshes Status.RSSI by querying the modem. The ^RSSI value
// itself is not trusted since modems report it on different scales.
func RSSIHandler(m *Modem, line string) {
	if _, err := m.SignalStrength(context.Background()); err != nil {
		m.logger.Warn("signal strength update", "error", err)
	}
}

var (
	modeNames = map[string]string{
		"0": "No service",
		"1": "AMPS",
		"2": "CDMA",
		"3": "GSM/GPRS",
		"4": "HDR",
		"5": "WCDMA",
		"6": "GPS",
	}
	submodeNames = map[string]string{
		"0": "None",
		"1": "GSM",
		"2": "GPRS",
		"3": "EDGE",
		"4": "WCDMA",
		"5": "HSDPA",
		"6": "HSUPA",
		"7": "HSDPA",
	}
)

// ModeHandler decodes "^MODE:<mode>,<submode>" into Status.Mode.
func ModeHandler(m *Modem, line string) {
	mode, err := ParseMode(line)
	if err != nil {
		m.logger.Warn("mode update", "line", at.Trim(line), "error", err)
		return
	}
	m.status.SetMode(mode)
}

// ParseMode returns the "<mode>/<submode>" name of a ^MODE notice. Codes
// without a known name are kept as is.
func ParseMode(line string) (string, error) {
	body := strings.TrimSpace(strings.TrimPrefix(at.Trim(line), at.UrcMode))
	mode, submode, ok := strings.Cut(body, ",")
	if !ok {
		return "", fmt.Errorf("malformed mode notice %q", body)
	}
	mode, submode = strings.TrimSpace(mode), strings.TrimSpace(submode)
	if name, ok := modeNames[mode]; ok {
		mode = name
	}
	if name, ok := submodeNames[submode]; ok {
		submode = name
	}
	return mode + "/" + submode, nil
}

// FlowReport is a decoded ^DSFLOWRPT notice.
type FlowReport struct {
	// Uptime of the data link in seconds.
	Uptime int
	// Uplink and Downlink are the current rates in bytes per second.
	Uplink   int
	Downlink int
	// Tx and Rx count bytes since the link came up.
	Tx int
	Rx int
}

// ParseFlowReport decodes the hexadecimal counters of a ^DSFLOWRPT notice.
func ParseFlowReport(line string) (FlowReport, error) {
	body := strings.TrimSpace(strings.TrimPrefix(at.Trim(line), at.UrcFlowReport))
	parts := strings.SplitN(body, ",", 7)
	if len(parts) < 5 {
		return FlowReport{}, fmt.Errorf("malformed flow report %q", body)
	}
	var values [5]int
	for i := range values {
		v, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 16, 64)
		if err != nil {
			return FlowReport{}, fmt.Errorf("flow report field %d: %w", i, err)
		}
		values[i] = int(v)
	}
	return FlowReport{
		Uptime:   values[0],
		Uplink:   values[1],
		Downlink: values[2],
		Tx:       values[3],
		Rx:       values[4],
	}, nil
}

// FlowReportHandler copies a ^DSFLOWRPT notice into Status.
func FlowReportHandler(m *Modem, line string) {
	r, err := ParseFlowReport(line)
	if err != nil {
		m.logger.Warn("flow report", "error", err)
		return
	}
	m.status.SetFlow(r.Uptime, r.Uplink, r.Downlink, r.Tx, r.Rx)
}
