package message

import (
	"net"
	"strings"
)

// purported relay address named by a Received header. the value is
// attacker supplied, callers verify it against DNS policy rather than
// trusting it.
func RelayIP(val string) (ip net.IP) {
	// relays conventionally record the peer as "name [addr]"
	start := strings.Index(val, "[")
	for start != -1 {
		end := strings.Index(val[start:], "]")
		if end == -1 {
			break
		}
		ip = net.ParseIP(strings.TrimSpace(val[start+1 : start+end]))
		if ip != nil {
			return
		}
		next := strings.Index(val[start+1:], "[")
		if next == -1 {
			break
		}
		start += 1 + next
	}
	// fall back to any bare token that parses as an address
	for _, tok := range strings.Fields(val) {
		tok = strings.Trim(tok, "();")
		ip = net.ParseIP(tok)
		if ip != nil {
			return
		}
	}
	return
}
