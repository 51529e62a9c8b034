package ircwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrParseFailure marks a DCC line that matched a kind but could not be
// decoded. Callers log and skip it.
var ErrParseFailure = errors.New("malformed dcc message")

var (
	dccSendRe   = regexp.MustCompile(`DCC SEND (?:"([^"]+)"|(\S+)) (\S+) (\d+) (\d+)`)
	dccAcceptRe = regexp.MustCompile(`DCC ACCEPT (?:"([^"]+)"|(\S+)) (\d+) (\d+)`)
)

// DCCSend is a bot's offer to open a data connection for one file.
type DCCSend struct {
	Filename string
	IP       net.IP
	Port     string
	Size     int64
}

func (d DCCSend) Addr() string {
	return net.JoinHostPort(d.IP.String(), d.Port)
}

// DCCAccept is the bot's answer to a DCC RESUME request.
type DCCAccept struct {
	Filename string
	Port     string
	Offset   int64
}

func ParseDCCSend(body string) (DCCSend, error) {
	m := dccSendRe.FindStringSubmatch(body)
	if m == nil {
		return DCCSend{}, fmt.Errorf("%w: %q", ErrParseFailure, body)
	}
	name, err := cleanFilename(pick(m[1], m[2]))
	if err != nil {
		return DCCSend{}, err
	}
	ip, err := parseAddress(m[3])
	if err != nil {
		return DCCSend{}, err
	}
	port, err := parsePort(m[4])
	if err != nil {
		return DCCSend{}, err
	}
	size, err := strconv.ParseInt(m[5], 10, 64)
	if err != nil {
		return DCCSend{}, fmt.Errorf("%w: size %q", ErrParseFailure, m[5])
	}
	return DCCSend{Filename: name, IP: ip, Port: port, Size: size}, nil
}

func ParseDCCAccept(body string) (DCCAccept, error) {
	m := dccAcceptRe.FindStringSubmatch(body)
	if m == nil {
		return DCCAccept{}, fmt.Errorf("%w: %q", ErrParseFailure, body)
	}
	name, err := cleanFilename(pick(m[1], m[2]))
	if err != nil {
		return DCCAccept{}, err
	}
	port, err := parsePort(m[3])
	if err != nil {
		return DCCAccept{}, err
	}
	offset, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return DCCAccept{}, fmt.Errorf("%w: offset %q", ErrParseFailure, m[4])
	}
	return DCCAccept{Filename: name, Port: port, Offset: offset}, nil
}

// IPv4FromUint32 converts the DCC address field (network byte order) into an IP.
func IPv4FromUint32(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

func parseAddress(raw string) (net.IP, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: address %q", ErrParseFailure, raw)
	}
	return IPv4FromUint32(uint32(v)), nil
}

func parsePort(raw string) (string, error) {
	p, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: port %q", ErrParseFailure, raw)
	}
	if p == 0 {
		return "", fmt.Errorf("%w: passive dcc (port 0) is not supported", ErrParseFailure)
	}
	return strconv.FormatUint(p, 10), nil
}

// cleanFilename keeps only the base name so an offer cannot point outside the
// download directory.
func cleanFilename(raw string) (string, error) {
	name := strings.TrimSpace(strings.Trim(raw, `"`))
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: filename %q", ErrParseFailure, raw)
	}
	return name, nil
}

func pick(quoted, bare string) string {
	if quoted != "" {
		return quoted
	}
	return bare
}
