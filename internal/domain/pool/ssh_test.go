package pool

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfigRequiresAuthMethod(t *testing.T) {
	_, err := clientConfig(testKey, Credential{}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable auth method")
}

func TestClientConfigPasswordAuth(t *testing.T) {
	cfg, err := clientConfig(testKey, Credential{Password: "pw"}, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestClientConfigRejectsBadPrivateKey(t *testing.T) {
	_, err := clientConfig(testKey, Credential{PrivateKeyPEM: []byte("not a key")}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}

func TestDialErrorClassification(t *testing.T) {
	assert.True(t, isAuthError(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")))
	assert.False(t, isAuthError(errors.New("dial tcp: connection refused")))

	assert.True(t, isTimeoutError(context.DeadlineExceeded))
	assert.False(t, isTimeoutError(errors.New("dial tcp: connection refused")))
}

func TestCapWriterDiscardsOverflow(t *testing.T) {
	var buf bytes.Buffer
	w := &capWriter{buf: &buf, max: 4}

	n, err := w.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n, "writer must accept the full payload")
	assert.Equal(t, "abcd", buf.String())

	n, err = w.Write([]byte("ij"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", buf.String())
}
