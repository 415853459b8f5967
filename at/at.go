package at

import (
	"strconv"
	"strings"
)

const (
	// Terminal Control
	CR         = "\r"
	Terminator = "\r\n\r\n"

	// Reply prefixes
	OK  = "+OK"
	ERR = "+ERR="

	// Command mode escape, sent without a trailing CR
	Escape = "+++"

	// Commands
	CmdProbe           = "AT+"
	CmdSocketCreate    = "AT+SKCT="
	CmdSocketClose     = "AT+SKCLS="
	CmdSocketSend      = "AT+SKSND="
	CmdSocketReceive   = "AT+SKRCV="
	CmdSocketState     = "AT+SKSTT"
	CmdSocketDefault   = "AT+SKSDF="
	CmdLinkStatus      = "AT+LKSTT"
	CmdTransparentMode = "AT+ENTM"
	CmdAutoWorkSocket  = "AT+ATRM"
)

// Socket protocol and role tokens understood by AT+SKCT.
const (
	ProtocolTCP = "0"
	ProtocolUDP = "1"

	RoleClient = "0"
	RoleServer = "1"
)

type ResponseType int

const (
	TypeOK      ResponseType = iota // +OK, +OK=...
	TypeError                       // +ERR=<n>
	TypeUnknown                     // anything else
)

func (t ResponseType) String() string {
	switch t {
	case TypeOK:
		return "ok"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// SocketCreate builds the AT+SKCT command line (without CR).
func SocketCreate(protocol, role, host, port string) string {
	return CmdSocketCreate + strings.Join([]string{protocol, role, host, port}, ",")
}

// SocketClose builds the AT+SKCLS command line.
func SocketClose(handle int) string {
	return CmdSocketClose + strconv.Itoa(handle)
}

// SocketSend builds the AT+SKSND command line announcing a payload of size bytes.
func SocketSend(handle, size int) string {
	return CmdSocketSend + strconv.Itoa(handle) + "," + strconv.Itoa(size)
}

// SocketReceive builds the AT+SKRCV command line requesting up to size bytes.
func SocketReceive(handle, size int) string {
	return CmdSocketReceive + strconv.Itoa(handle) + "," + strconv.Itoa(size)
}

// SocketState builds the AT+SKSTT query. The module takes the handle
// directly after the command name, with no '='.
func SocketState(handle int) string {
	return CmdSocketState + strconv.Itoa(handle)
}

// SocketDefault builds the AT+SKSDF command line.
func SocketDefault(handle int) string {
	return CmdSocketDefault + strconv.Itoa(handle)
}
