package pool

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is used when a HostKey is built without an explicit port.
const DefaultPort = 22

// HostKey identifies a pool bucket. Two executions share connections
// only when host, port, and user all match.
type HostKey struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
}

// NewHostKey builds a HostKey, applying the default SSH port when port
// is zero or negative.
func NewHostKey(host string, port int, user string) HostKey {
	if port <= 0 {
		port = DefaultPort
	}
	return HostKey{Host: host, Port: port, User: user}
}

// String renders the key as user@host:port.
func (k HostKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Addr returns the dialable host:port address.
func (k HostKey) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// Credential carries the secrets needed to authenticate a dial. At least
// one of Password or PrivateKeyPEM must be set. HostPublicKey, when
// present, pins the remote host key in authorized_keys format; when
// empty, host key verification is skipped.
type Credential struct {
	Password      string
	PrivateKeyPEM []byte
	Passphrase    string
	HostPublicKey []byte
}
