package tlsconfig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}

// writeSelfSignedCert writes a throwaway self-signed cert/key pair to dir,
// just good enough for tls.LoadX509KeyPair to succeed.
func writeSelfSignedCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("pem.Encode cert: %v", err)
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		t.Fatalf("pem.Encode key: %v", err)
	}
	return certFile, keyFile
}

func TestServerRejectsCAFileWithNoCertificates(t *testing.T) {
	dir := t.TempDir()
	caFile := dir + "/ca.pem"
	if err := writeFile(caFile, "not a certificate"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	certFile, keyFile := writeSelfSignedCert(t, dir)

	o := Options{Enable: true, CertFile: certFile, KeyFile: keyFile, CAFile: caFile}
	if _, err := o.Server(); err == nil {
		t.Fatalf("Server() = nil error, want an error for a CA file with no parseable certificates")
	}
}

func TestClientRejectsCAFileWithNoCertificates(t *testing.T) {
	dir := t.TempDir()
	caFile := dir + "/ca.pem"
	if err := writeFile(caFile, "not a certificate"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	o := Options{Enable: true, CAFile: caFile}
	if _, err := o.Client(); err == nil {
		t.Fatalf("Client() = nil error, want an error for a CA file with no parseable certificates")
	}
}
