package connkit

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// resolveTLSConfig builds the TLS settings for the pgdriver connector. A nil
// result means TLS is disabled. An unreadable or malformed CA file fails
// here, before any connection attempt is made.
func resolveTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}

	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}

	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, &Error{
				Code:    CodeConfiguration,
				Message: fmt.Sprintf("cannot read CA certificate file %s", cfg.TLSCAFile),
				Op:      "Initialize",
				Phase:   PhaseConfigure,
				Cause:   err,
			}
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &Error{
				Code:    CodeConfiguration,
				Message: fmt.Sprintf("no valid certificates in CA file %s", cfg.TLSCAFile),
				Op:      "Initialize",
				Phase:   PhaseConfigure,
			}
		}
		tc.RootCAs = pool
	}

	return tc, nil
}
