package credentials

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// fileEntry is one rule in the credentials file. Host may be a glob
// pattern; zero port and empty user match any.
type fileEntry struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Passphrase     string `yaml:"passphrase"`
	HostPublicKey  string `yaml:"host_public_key"`
}

type fileDoc struct {
	Credentials []fileEntry `yaml:"credentials"`
}

type fileRule struct {
	host string
	port int
	user string
	cred pool.Credential
}

func (r fileRule) matches(key pool.HostKey) bool {
	if r.port != 0 && r.port != key.Port {
		return false
	}
	if r.user != "" && r.user != key.User {
		return false
	}
	if r.host == key.Host {
		return true
	}
	ok, err := doublestar.Match(r.host, key.Host)
	return err == nil && ok
}

// FileSource resolves credentials from a YAML rules file. Rules are
// evaluated in file order; the first match wins, so exact entries should
// precede glob patterns.
type FileSource struct {
	rules []fileRule
}

// LoadFile reads and validates a credentials file. Referenced private key
// files are loaded eagerly so a broken path fails at startup rather than
// on first dial.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	src := &FileSource{rules: make([]fileRule, 0, len(doc.Credentials))}
	for i, e := range doc.Credentials {
		if e.Host == "" {
			return nil, fmt.Errorf("credentials entry %d: host is required", i)
		}

		cred := pool.Credential{
			Password:   e.Password,
			Passphrase: e.Passphrase,
		}
		switch {
		case e.PrivateKey != "":
			cred.PrivateKeyPEM = []byte(e.PrivateKey)
		case e.PrivateKeyFile != "":
			pem, err := os.ReadFile(e.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("credentials entry %d: read private key file: %w", i, err)
			}
			cred.PrivateKeyPEM = pem
		}
		if e.Password == "" && len(cred.PrivateKeyPEM) == 0 {
			return nil, fmt.Errorf("credentials entry %d: password or private key is required", i)
		}
		if e.HostPublicKey != "" {
			cred.HostPublicKey = []byte(e.HostPublicKey)
		}

		src.rules = append(src.rules, fileRule{
			host: e.Host,
			port: e.Port,
			user: e.User,
			cred: cred,
		})
	}
	return src, nil
}

// Lookup returns the first rule matching key.
func (s *FileSource) Lookup(key pool.HostKey) (pool.Credential, error) {
	for _, r := range s.rules {
		if r.matches(key) {
			return r.cred, nil
		}
	}
	return pool.Credential{}, errdefs.NotFound("credential", key.String())
}

// Len returns the number of loaded rules.
func (s *FileSource) Len() int {
	return len(s.rules)
}
