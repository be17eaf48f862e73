package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-weather/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	defaultCacheDir = "./certs"
	renewalWindow   = 30 * 24 * time.Hour
)

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager serves either a static key pair from disk or certificates
// obtained through ACME.
type CertManager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.TLSConfig
	autocertMgr     *autocert.Manager
	mu              sync.RWMutex
	certificates    map[string]*tls.Certificate
	state           atomic.Value
	monitorDone     chan struct{}
	shutdownTimeout time.Duration
	renewalInterval time.Duration
	now             func() time.Time
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager) (*CertManager, error) {
	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.TLS == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.tls")
	}

	tlsConfig := serverConfig.TLS

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          tlsConfig,
		certificates:    make(map[string]*tls.Certificate),
		shutdownTimeout: 10 * time.Second,
		renewalInterval: 12 * time.Hour,
		now:             time.Now,
	}

	cm.state.Store(StateStopped)

	if tlsConfig.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, err
		}
	} else if tlsConfig.CertFile == "" || tlsConfig.KeyFile == "" {
		cancel()
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "cert_file and key_file are required without auto_cert")
	}

	return cm, nil
}

// Listen wraps a plain TCP listener on addr with the manager's TLS config.
func (cm *CertManager) Listen(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	tlsConfig := cm.GetTLSConfig()
	if tlsConfig == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "no certificate loaded")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, types.WrapError(err, "failed to create TLS listener")
	}

	return tls.NewListener(ln, tlsConfig), nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		NextProtos:   []string{"http/1.1"},
	}

	if cm.autocertMgr != nil {
		tlsConfig.GetCertificate = cm.wrapGetCertificate(cm.autocertMgr.GetCertificate)
		tlsConfig.NextProtos = append(tlsConfig.NextProtos, acme.ALPNProto)
		return tlsConfig
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, cert := range cm.certificates {
		tlsConfig.Certificates = append(tlsConfig.Certificates, *cert)
	}

	if len(tlsConfig.Certificates) == 0 {
		return nil
	}

	return tlsConfig
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if cm.autocertMgr == nil {
		if err := cm.loadKeyPair(); err != nil {
			cm.setState(StateStopped)
			return err
		}
	} else {
		cm.preloadCertificates()
		cm.startRenewalMonitor()
	}

	cm.setState(StateRunning)

	cm.logger.Info("TLS certificate manager started",
		zap.Bool("auto_cert", cm.config.AutoCert),
		zap.Strings("domains", cm.config.Domains))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer cm.setState(StateStopped)

	cm.cancel()

	if cm.monitorDone != nil {
		select {
		case <-cm.monitorDone:
		case <-time.After(cm.shutdownTimeout):
			cm.logger.Warn("Certificate renewal monitor stop timeout")
		}
	}

	cm.logger.Info("TLS certificate manager stopped")

	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) {
	cm.state.Store(newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func (cm *CertManager) loadKeyPair() error {
	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return types.Errorf(types.ErrTLSConfigInvalid, "load key pair: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.Errorf(types.ErrTLSConfigInvalid, "parse certificate: %v", err)
	}

	now := cm.now()
	if now.Before(leaf.NotBefore) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate not valid before %s", leaf.NotBefore)
	}
	if now.After(leaf.NotAfter) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate expired at %s", leaf.NotAfter)
	}

	cert.Leaf = leaf

	cm.mu.Lock()
	cm.certificates[certificateName(leaf)] = &cert
	cm.mu.Unlock()

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.Errorf(types.ErrTLSConfigInvalid, "auto_cert requires at least one domain")
	}

	for _, domain := range cm.config.Domains {
		if domain == "" {
			return types.Errorf(types.ErrTLSConfigInvalid, "empty domain name")
		}
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{DirectoryURL: cm.config.ACMEDirectory}
	}

	return nil
}

func (cm *CertManager) wrapGetCertificate(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := getCert(hello)
		if err != nil {
			cm.logger.Error("Failed to get certificate",
				zap.String("server_name", hello.ServerName),
				zap.Error(err))
			return nil, err
		}

		if hello.ServerName != "" {
			cm.mu.Lock()
			cm.certificates[hello.ServerName] = cert
			cm.mu.Unlock()
		}

		return cert, nil
	}
}

func (cm *CertManager) preloadCertificates() {
	ctx, cancel := context.WithTimeout(cm.ctx, 60*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	for _, domain := range cm.config.Domains {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}

			cert, err := cm.autocertMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
			if err != nil {
				cm.logger.Warn("Failed to preload certificate",
					zap.String("domain", domain),
					zap.Error(err))
				return nil
			}

			cm.mu.Lock()
			cm.certificates[domain] = cert
			cm.mu.Unlock()

			cm.logger.Info("Certificate preloaded", zap.String("domain", domain))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cm.logger.Warn("Certificate preloading interrupted", zap.Error(err))
	}
}

func (cm *CertManager) startRenewalMonitor() {
	cm.monitorDone = make(chan struct{})

	go func() {
		defer close(cm.monitorDone)

		ticker := time.NewTicker(cm.renewalInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cm.checkCertificateRenewal()
			case <-cm.ctx.Done():
				return
			}
		}
	}()
}

func (cm *CertManager) checkCertificateRenewal() {
	for domain, status := range cm.GetCertificateStatus() {
		if status.Status == "valid" {
			continue
		}

		cm.logger.Info("Certificate renewal required",
			zap.String("domain", domain),
			zap.String("status", status.Status),
			zap.Time("expires_at", status.NotAfter))

		cert, err := cm.autocertMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
		if err != nil {
			cm.logger.Error("Failed to renew certificate", zap.String("domain", domain), zap.Error(err))
			continue
		}

		cm.mu.Lock()
		cm.certificates[domain] = cert
		cm.mu.Unlock()
	}
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	now := cm.now()
	status := make(map[string]types.CertificateStatus, len(cm.certificates))

	for domain, cert := range cm.certificates {
		leaf := cert.Leaf
		if leaf == nil {
			if len(cert.Certificate) == 0 {
				status[domain] = types.CertificateStatus{Domain: domain, Status: "error", Error: "no certificate data"}
				continue
			}

			parsed, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				status[domain] = types.CertificateStatus{Domain: domain, Status: "error", Error: err.Error()}
				continue
			}
			leaf = parsed
		}

		remaining := leaf.NotAfter.Sub(now)

		certStatus := "valid"
		switch {
		case remaining <= 0:
			certStatus = "expired"
		case remaining <= renewalWindow:
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          leaf.Issuer.String(),
			NotAfter:        leaf.NotAfter,
			DaysUntilExpiry: int(remaining.Hours() / 24),
		}
	}

	return status
}

func certificateName(leaf *x509.Certificate) string {
	if len(leaf.DNSNames) > 0 {
		return leaf.DNSNames[0]
	}
	if leaf.Subject.CommonName != "" {
		return leaf.Subject.CommonName
	}
	return "default"
}
