package connkit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveTLSConfig_Disabled(t *testing.T) {
	tc, err := resolveTLSConfig(Config{TLSEnabled: false, TLSCAFile: "/does/not/matter"})
	if err != nil {
		t.Fatalf("resolveTLSConfig failed: %v", err)
	}
	if tc != nil {
		t.Error("Expected nil TLS config when TLS is disabled")
	}
}

func TestResolveTLSConfig_EnabledDefaults(t *testing.T) {
	tc, err := resolveTLSConfig(Config{TLSEnabled: true})
	if err != nil {
		t.Fatalf("resolveTLSConfig failed: %v", err)
	}
	if tc == nil {
		t.Fatal("Expected TLS config")
	}
	if tc.InsecureSkipVerify {
		t.Error("Expected certificate verification by default")
	}
	if tc.RootCAs != nil {
		t.Error("Expected system roots when no CA file is set")
	}
}

func TestResolveTLSConfig_SkipVerify(t *testing.T) {
	tc, err := resolveTLSConfig(Config{TLSEnabled: true, TLSSkipVerify: true})
	if err != nil {
		t.Fatalf("resolveTLSConfig failed: %v", err)
	}
	if !tc.InsecureSkipVerify {
		t.Error("Expected InsecureSkipVerify to be set")
	}
}

func TestResolveTLSConfig_UnreadableCAFile(t *testing.T) {
	_, err := resolveTLSConfig(Config{
		TLSEnabled: true,
		TLSCAFile:  filepath.Join(t.TempDir(), "missing.pem"),
	})
	if err == nil {
		t.Fatal("Expected error for unreadable CA file")
	}
	if !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if phase, _ := GetPhase(err); phase != PhaseConfigure {
		t.Errorf("Expected phase %q, got %q", PhaseConfigure, phase)
	}
}

func TestResolveTLSConfig_MalformedCAFile(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}

	_, err := resolveTLSConfig(Config{TLSEnabled: true, TLSCAFile: caFile})
	if err == nil {
		t.Fatal("Expected error for malformed CA file")
	}
	if !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestResolveTLSConfig_ValidCAFile(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, selfSignedCAPEM(t), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}

	tc, err := resolveTLSConfig(Config{TLSEnabled: true, TLSCAFile: caFile})
	if err != nil {
		t.Fatalf("resolveTLSConfig failed: %v", err)
	}
	if tc.RootCAs == nil {
		t.Error("Expected CA pool to be populated")
	}
}

// selfSignedCAPEM generates a throwaway CA certificate
func selfSignedCAPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "connkit test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
