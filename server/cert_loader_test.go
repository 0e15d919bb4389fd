package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCert writes a self-signed key pair for commonName and returns the paths.
func writeCert(t *testing.T, dir, commonName string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func commonName(t *testing.T, cert *tls.Certificate) string {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCertLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCert(t, dir, "first")

	l, err := NewCertLoader(certPath, keyPath, discardLogger())
	require.NoError(t, err)
	clock := time.Now()
	l.now = func() time.Time { return clock }
	l.lastCheck = clock

	cert, err := l.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, cert))

	writeCert(t, dir, "second")
	future := clock.Add(time.Hour)
	require.NoError(t, os.Chtimes(certPath, future, future))

	cert, err = l.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, cert), "files are not checked before the interval passes")

	clock = clock.Add(2 * defaultCertCheckInterval)
	cert, err = l.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "second", commonName(t, cert))
}

func TestCertLoader_BadReloadKeepsCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCert(t, dir, "first")

	l, err := NewCertLoader(certPath, keyPath, discardLogger())
	require.NoError(t, err)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	require.NoError(t, os.WriteFile(certPath, []byte("garbage"), 0o600))
	future := clock.Add(time.Hour)
	require.NoError(t, os.Chtimes(certPath, future, future))
	clock = clock.Add(2 * defaultCertCheckInterval)

	cert, err := l.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, cert))
}

func TestNewCertLoader_Missing(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCertLoader(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem"), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load key pair")
}
