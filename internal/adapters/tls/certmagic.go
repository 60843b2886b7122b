// Package tls provides TLS configuration using CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Challenge types.
const (
	ChallengeHTTP = "http"
	ChallengeDNS  = "dns"
)

// Config holds TLS configuration.
type Config struct {
	Domains     []string
	Email       string
	CacheDir    string
	Staging     bool   // Use Let's Encrypt staging environment
	Challenge   string // http (default) or dns
	HTTPAddress string // Listener for HTTP-01 challenges, ":80" by default
	DNS         DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Manager obtains and renews certificates for the tile server.
type Manager struct {
	config    Config
	logger    *slog.Logger
	magic     *certmagic.Config
	issuer    *certmagic.ACMEIssuer
	challenge *http.Server
}

// NewManager configures CertMagic for the given domains. No certificates are
// requested until ManageCertificates is called.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, errors.New("TLS enabled but no email specified")
	}
	if cfg.Challenge == "" {
		cfg.Challenge = ChallengeHTTP
	}
	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = ":80"
	}

	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	template := certmagic.ACMEIssuer{
		Agreed: true,
		Email:  cfg.Email,
		CA:     certmagic.LetsEncryptProductionCA,
	}
	if cfg.Staging {
		template.CA = certmagic.LetsEncryptStagingCA
	}

	switch cfg.Challenge {
	case ChallengeHTTP:
		template.DisableTLSALPNChallenge = true
	case ChallengeDNS:
		// Empty ClientID means System Assigned Managed Identity.
		template.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID,
				},
			},
		}
		template.DisableHTTPChallenge = true
		template.DisableTLSALPNChallenge = true
	default:
		return nil, fmt.Errorf("unknown ACME challenge %q", cfg.Challenge)
	}

	magic := certmagic.NewDefault()
	issuer := certmagic.NewACMEIssuer(magic, template)
	magic.Issuers = []certmagic.Issuer{issuer}

	return &Manager{
		config: cfg,
		logger: logger,
		magic:  magic,
		issuer: issuer,
	}, nil
}

// TLSConfig returns the TLS configuration serving the managed certificates.
func (m *Manager) TLSConfig() *tls.Config {
	return m.magic.TLSConfig()
}

// ChallengeHandler answers HTTP-01 challenges and passes everything else
// to next.
func (m *Manager) ChallengeHandler(next http.Handler) http.Handler {
	return m.issuer.HTTPChallengeHandler(next)
}

// StartChallengeServer serves HTTP-01 challenges until Shutdown. Other
// requests are redirected to HTTPS. It is a no-op for DNS challenges.
func (m *Manager) StartChallengeServer() error {
	if m.config.Challenge != ChallengeHTTP {
		return nil
	}

	m.challenge = &http.Server{
		Addr:              m.config.HTTPAddress,
		Handler:           m.ChallengeHandler(http.HandlerFunc(redirectToHTTPS)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.logger.Info("starting ACME challenge listener", "address", m.config.HTTPAddress)
	if err := m.challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ManageCertificates obtains certificates for the configured domains and
// keeps them renewed in the background.
func (m *Manager) ManageCertificates(ctx context.Context) error {
	m.logger.Info("obtaining certificates",
		"domains", m.config.Domains,
		"challenge", m.config.Challenge,
	)

	if err := m.magic.ManageSync(ctx, m.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	m.logger.Info("certificates obtained successfully")
	return nil
}

// Shutdown stops the challenge listener.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.challenge == nil {
		return nil
	}
	return m.challenge.Shutdown(ctx)
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
