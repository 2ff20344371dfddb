package specserver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// loadOrGenerateTLS returns a tls.Config for the server. If cfg names an
// explicit cert/key pair it is used as-is; otherwise a self-signed
// certificate is generated for the advertised bind address, its
// fingerprint is logged once, and the generated files are written to a
// temp directory that the caller should remove at shutdown. Per §4.5 the
// server MUST never serve plain HTTP, so this is always called.
func loadOrGenerateTLS(cfg *Config) (*tls.Config, func(), error) {
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading provided certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, func() {}, nil
	}

	certPEM, keyPEM, fingerprint, err := generateSelfSigned(cfg.Bind)
	if err != nil {
		return nil, nil, fmt.Errorf("generating self-signed certificate: %w", err)
	}

	dir, err := os.MkdirTemp("", "homestak-server-cert-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating temp cert dir: %w", err)
	}
	certPath := dir + "/cert.pem"
	keyPath := dir + "/key.pem"
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, nil, err
	}

	log.Info().Str("fingerprint", fingerprint).Msg("generated self-signed TLS certificate")

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { os.RemoveAll(dir) }
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, cleanup, nil
}

func generateSelfSigned(advertisedName string) (certPEM, keyPEM []byte, fingerprint string, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, "", err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, "", err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: advertisedName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	if ip := net.ParseIP(advertisedName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{advertisedName}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, "", err
	}

	sum := sha256.Sum256(der)
	fingerprint = fmt.Sprintf("%x", sum)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, "", err
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return certPEM, keyPEM, fingerprint, nil
}
