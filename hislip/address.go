package hislip

import (
	"net"
	"regexp"
	"strconv"
)

var addressRegex = regexp.MustCompile(
	`(?i)^TCPIP(?P<board>\d*)::(?P<host>[^\s:]+)::(?P<name>hislip\d+)(,(?P<port>\d+))?(::INSTR)?$`)

// Address is a parsed VISA resource string of a HiSLIP instrument,
// e.g. "TCPIP0::192.168.1.10::hislip0,4880::INSTR".
type Address struct {
	Board int
	Host  string
	// Name is the LAN device name, sent to the server as the Initialize sub-address.
	Name string
	Port int
}

// ParseAddress parses a VISA HiSLIP resource string. The match is case-insensitive,
// the board defaults to 0 and the port defaults to DefaultPort.
func ParseAddress(address string) (Address, error) {
	match := addressRegex.FindStringSubmatch(address)
	if match == nil {
		return Address{}, ErrInvalidAddress
	}

	addr := Address{
		Host: match[addressRegex.SubexpIndex("host")],
		Name: match[addressRegex.SubexpIndex("name")],
		Port: DefaultPort,
	}

	if board := match[addressRegex.SubexpIndex("board")]; board != "" {
		n, err := strconv.Atoi(board)
		if err != nil {
			return Address{}, ErrInvalidAddress
		}
		addr.Board = n
	}

	if port := match[addressRegex.SubexpIndex("port")]; port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n > 65535 {
			return Address{}, ErrInvalidAddress
		}
		addr.Port = n
	}

	return addr, nil
}

// HostPort returns the "host:port" form of the address.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) String() string {
	board := ""
	if a.Board != 0 {
		board = strconv.Itoa(a.Board)
	}

	return "TCPIP" + board + "::" + a.Host + "::" + a.Name + "," + strconv.Itoa(a.Port) + "::INSTR"
}
