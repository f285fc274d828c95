package supervisor

import (
	"net"
	"strconv"
)

// ListeningAddress is the result of a successful startup: the address the
// child reported on its readiness channel, plus a derived URL.
type ListeningAddress struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// newListeningAddress derives the URL from the reported ip/port. An empty ip
// or the IPv6 any-address literal means the child bound every interface, so
// localhost is the useful host to dial. JoinHostPort brackets IPv6 literals.
func newListeningAddress(ip string, port int) ListeningAddress {
	host := ip
	if host == "" || host == "::" {
		host = "localhost"
	}
	return ListeningAddress{
		IP:   ip,
		Port: port,
		URL:  "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
	}
}
