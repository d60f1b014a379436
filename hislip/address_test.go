package hislip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseAddress verifies parsing of VISA HiSLIP resource strings.
func TestParseAddress(t *testing.T) {
	valid := map[string]Address{
		"TCPIP::1.2.3.4::HiSLIP0::INSTR":         {Board: 0, Host: "1.2.3.4", Name: "HiSLIP0", Port: DefaultPort},
		"TCPIP::company::hislip1,3::INSTR":       {Board: 0, Host: "company", Name: "hislip1", Port: 3},
		"tcpip::company::hislip1,30000::INSTR":   {Board: 0, Host: "company", Name: "hislip1", Port: 30000},
		"TCPIP0::1.2.3.4::hislip0":               {Board: 0, Host: "1.2.3.4", Name: "hislip0", Port: DefaultPort},
		"TCPIP1::company::hislip0,4880::INSTR":   {Board: 1, Host: "company", Name: "hislip0", Port: 4880},
		"TCPIP2::company2::hislip1,30000::INSTR": {Board: 2, Host: "company2", Name: "hislip1", Port: 30000},
	}

	for address, expected := range valid {
		addr, err := ParseAddress(address)
		require.NoError(t, err, address)
		require.Equal(t, expected, addr, address)
	}

	invalid := []string{
		"TCPIP::dev.company.com::INSTR",
		"GPIB::23",
		"TCPIP::dev.company.com::hisli",
		"TCPIP0::dev.company.com::instr::INSTR",
		"TCPIP0::10.0.0.1::usb0[1234::5678::MYSERIAL::0]::INSTR",
		"TCPIP::1.1.1.1::gpib,5::INSTR",
		"TCPIP::1.1.1.1::gpib,5",
		"TCPIP0::company::hislip0,port::INSTR",
		"tcpip3::10.0.0.1::USB0::instr",
		"SOCKET::myMachine::1234",
		"TCPIP0::testMachine1::COM1,488::INSTR",
		"TCPIP::company::hislip0,70000",
	}

	for _, address := range invalid {
		_, err := ParseAddress(address)
		require.ErrorIs(t, err, ErrInvalidAddress, address)
	}
}

// TestAddress_String verifies the canonical form of an address.
func TestAddress_String(t *testing.T) {
	require := require.New(t)

	addr := Address{Board: 1, Host: "10.0.0.5", Name: "hislip0", Port: 4880}
	require.Equal("TCPIP1::10.0.0.5::hislip0,4880::INSTR", addr.String())
	require.Equal("10.0.0.5:4880", addr.HostPort())

	parsed, err := ParseAddress(addr.String())
	require.NoError(err)
	require.Equal(addr, parsed)
}
