package master

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
)

// maxCommandLength is the maximum line length in bytes, including the
// trailing \r\n terminator.
const maxCommandLength = 256

// Command letters. The letter occupies byte 1 of every client line; payload
// begins at byte 2.
const (
	cmdVersion      = 'V'
	cmdSessionList  = 'G'
	cmdRegister     = 'R'
	cmdHostname     = 'N'
	cmdMapname      = 'm'
	cmdCurrentUsers = 'C'
	cmdMaxUsers     = 'M'
	cmdGameType     = 'P'
	cmdClientCount  = 'S'
	cmdPing         = 'K'
	cmdInvite       = 'X'
)

var (
	// ErrFrameTooLong means a line exceeded maxCommandLength bytes
	// (including terminator) without being terminated.
	ErrFrameTooLong = errors.New("master: line exceeds maximum command length")
	// ErrMalformedLine means a line was shorter than the minimum valid
	// length, or did not begin with the required '?' marker.
	ErrMalformedLine = errors.New("master: malformed line")
)

// readLine reads one \r\n-terminated line from r, one byte at a time, so
// the maxCommandLength boundary can be enforced precisely: a line of
// exactly 256 bytes including terminator is accepted, a 257th byte of any
// kind (terminator or not) is a framing error. The returned slice includes
// the terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, 0, maxCommandLength)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if len(buf) > maxCommandLength {
			return nil, ErrFrameTooLong
		}
		if len(buf) >= 2 && buf[len(buf)-2] == '\r' && buf[len(buf)-1] == '\n' {
			return buf, nil
		}
	}
}

// stripTerminator validates and removes the trailing \r\n from a line
// returned by readLine, and checks the minimum valid length of 4 bytes
// (first byte, command letter, CR, LF), so a stripped line always has at
// least 2 bytes; parseLine repeats that length check as part of the
// preamble.
func stripTerminator(line []byte) ([]byte, error) {
	if len(line) < 4 || line[len(line)-2] != '\r' || line[len(line)-1] != '\n' {
		return nil, ErrMalformedLine
	}
	return line[:len(line)-2], nil
}

// parsedLine is one decoded client command.
type parsedLine struct {
	cmd     byte
	payload []byte
}

// parseLine applies the preamble checks from the command dispatch state
// machine: minimum length, leading '?' marker, command letter extraction.
func parseLine(stripped []byte) (parsedLine, error) {
	if len(stripped) < 2 {
		return parsedLine{}, ErrMalformedLine
	}
	if stripped[0] != '?' {
		return parsedLine{}, ErrMalformedLine
	}
	return parsedLine{cmd: stripped[1], payload: stripped[2:]}, nil
}

// formatVersionReply renders the V<SERVER_VERSION>\n reply for a non-empty
// handshake payload.
func formatVersionReply(version int) []byte {
	return []byte(fmt.Sprintf("V%03d\n", version))
}

// formatClientCountReply renders the S<count>\n reply.
func formatClientCountReply(count int) []byte {
	return []byte(fmt.Sprintf("S%d\n", count))
}

const pingReply = "K\n"
const registerOKReply = "r\n"

// formatInviteLine renders the x<requesting_client_ip>\n line delivered to
// an invite target.
func formatInviteLine(requesterIP string) []byte {
	return []byte("x" + requesterIP + "\n")
}

// parseDecimalUint parses a decimal integer payload for the V command.
func parseDecimalUint(payload []byte) (int, error) {
	n, err := strconv.ParseUint(string(payload), 10, 31)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// parseDecimalUint16 parses a decimal 16-bit port payload for the R
// command.
func parseDecimalUint16(payload []byte) (uint16, error) {
	n, err := strconv.ParseUint(string(payload), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// splitInvitePayload splits an X command payload on the first ':' into
// target IP and port. The IP must be non-empty and the port must be a
// valid decimal uint16.
func splitInvitePayload(payload []byte) (ip string, port uint16, ok bool) {
	s := string(payload)
	idx := -1
	for i, r := range s {
		if r == ':' {
			idx = i
			break
		}
	}
	if idx <= 0 || idx == len(s)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return "", 0, false
	}
	return s[:idx], uint16(n), true
}

// sessionListTerminator ends every G response, current-version or banner.
const sessionListTerminator = "E\n\x00"

// encodeSessionRecord renders one L... record for the session list
// response. includePort controls whether the trailing port field is
// present, per the requesting client's negotiated version.
func encodeSessionRecord(s Session, includePort bool) []byte {
	out := fmt.Sprintf("L%s\r%s\r%s\r%c\r%c\r%c\r",
		s.Owner.PeerIP(), s.Hostname, s.Mapname, s.GameType, s.CurrentUsers, s.MaxUsers)
	if includePort {
		out += fmt.Sprintf("%d\r", s.Port)
	}
	out += "\n\x00"
	return []byte(out)
}

// encodeSessionListResponse renders the full G response body for a
// current-version client: one record per session, then the terminator.
func encodeSessionListResponse(sessions []Session, includePort bool) []byte {
	var out []byte
	for _, s := range sessions {
		out = append(out, encodeSessionRecord(s, includePort)...)
	}
	out = append(out, sessionListTerminator...)
	return out
}

// oldVersionBanner is the fixed six-line message sent in reply to a G
// request from a client whose negotiated version is older than the
// server's. The bytes are a compatibility contract and must not change.
var oldVersionBanner = []byte(
	"L127.0.0.1\rYour version of NF\rK is too old\r1\r1\r1\r\n\x00" +
		"L127.0.0.1\rPlease download\rthe latest version\r1\r1\r1\r\n\x00" +
		"L127.0.0.1\rfrom\r^2needforkill.ru     \r1\r1\r1\r\n\x00" +
		"L127.0.0.1\r\r\r1\r1\r1\r\n\x00" +
		"L127.0.0.1\rCKA4AUTE HOBY|-0\rNFK C CAUTA\r1\r1\r1\r\n\x00" +
		"L127.0.0.1\r^2needforkill.ru    \r\r1\r1\r1\r\n\x00" +
		sessionListTerminator,
)
