package master

import "strings"

// Session describes one hosted game session advertised by its owning
// client. It is a plain value record; the registry is the sole authority
// on whether a given Session is currently live.
type Session struct {
	// Owner is a non-owning reference to the ClientConn that registered
	// this session. A Session never outlives its owner's disconnect.
	Owner *ClientConn

	Port         uint16
	Hostname     string
	Mapname      string
	CurrentUsers byte
	MaxUsers     byte
	GameType     byte
}

// sessionKey identifies a session by its owner's peer IP (case-insensitive)
// and registered port. No two live sessions may share a key.
type sessionKey struct {
	ip   string
	port uint16
}

// Key returns the session's registry key.
func (s *Session) Key() sessionKey {
	return sessionKey{ip: strings.ToLower(s.Owner.PeerIP()), port: s.Port}
}
