package at

const (
	// Terminal Control
	CRLF       = "\r\n"
	Terminator = "\r"
	Prompt     = "> "
	CtrlZ      = "\x1a"
	Prefix     = "AT"

	// Response Codes
	OK                = "OK"
	ERROR             = "ERROR"
	Err               = "ERR"
	NoCarrier         = "NO CARRIER"
	NoDialtone        = "NO DIALTONE"
	Busy              = "BUSY"
	NoAnswer          = "NO ANSWER"
	CommandNotSupport = "COMMAND NOT SUPPORT"
	Connect           = "CONNECT"
	CmeError          = "+CME ERROR:"
	CmsError          = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcCall           = "RING"
	UrcNewMsg         = "+CMTI:"
	UrcBoot           = "^BOOT:"
	UrcMode           = "^MODE:"
	UrcSignalStrength = "^RSSI:"
	UrcFlowReport     = "^DSFLOWRPT:"

	// SIM states reported by +CPIN?
	SimReady = "READY"
	SimPin   = "SIM PIN"
	SimPuk   = "SIM PUK"
)

// Mnemonics of the commands issued by the engine itself.
const (
	CmdSanity       = ""
	CmdReset        = "Z"
	CmdEchoOn       = "E1"
	CmdEchoOff      = "E0"
	CmdDialtoneOff  = "X3"
	CmdDial         = "DT"
	CmdVerboseError = "+CMEE"
	CmdSimStatus    = "+CPIN"
	CmdTextMode     = "+CMGF"
	CmdSignal       = "+CSQ"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK
	TypeError                      // ERROR, +CME ERROR, NO CARRIER, ...
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
	TypeEmpty                      // Blank line or read timeout
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeError:
		return "error"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	case TypeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
