package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadahiro/flowlens/internal/config"
	"github.com/wadahiro/flowlens/internal/delivery"
	"github.com/wadahiro/flowlens/internal/metrics"
	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/orchestrator"
	"github.com/wadahiro/flowlens/internal/persist"
	"github.com/wadahiro/flowlens/internal/relay"
	"github.com/wadahiro/flowlens/internal/server"
)

var (
	configFile string
	memoryOnly bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "flowlens",
		Short:        "Step-by-step OAuth 2.0 / OpenID Connect flow debugger",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "Configuration file path (default: $CONFIG_FILE)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&memoryOnly, "memory", false, "Keep state in memory only")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd, newFlowsCmd(), newShowCmd(), newExportCmd(), newHealthcheckCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.LogLevel)
	return cfg, nil
}

func openStore(cfg *config.Config) (persist.Store, error) {
	if memoryOnly {
		return persist.NewMemoryStore(slog.Default()), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return persist.OpenBolt(cfg.StorePath(), slog.Default())
}

func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	client := &http.Client{Timeout: timeout}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := newHTTPClient(cfg.RequestTimeout, cfg.InsecureSkipVerify)
	if cfg.InsecureSkipVerify {
		slog.Warn("TLS certificate verification is disabled")
	}
	// The relay executor calls this server; a self-signed certificate must be accepted.
	relayClient := newHTTPClient(cfg.RequestTimeout, cfg.InsecureSkipVerify || cfg.TLSSelfSigned)

	m := metrics.New()
	direct := &delivery.Direct{Client: httpClient, Origin: cfg.Origin(), EnforceCORS: cfg.EnforceCORS}
	relayed := &delivery.Relay{Client: relayClient, Endpoint: cfg.RelayURL()}
	client := &oauth.Client{Default: direct, Relay: relayed, Logger: slog.Default()}
	if delivery.Mode(cfg.DeliveryMode) == delivery.ModeRelay {
		client.Default = relayed
	}

	registration := cfg.RegistrationRequest()
	orch := orchestrator.New(orchestrator.Options{
		Client:       client,
		Store:        store,
		RedirectURI:  cfg.RedirectURI(),
		Registration: &registration,
		Logger:       slog.Default(),
		Metrics:      m,
	})

	var handler http.Handler = server.New(server.Options{
		Orchestrator: orch,
		Relay:        relay.NewHandler(httpClient, slog.Default(), m),
		Metrics:      m,
		Logger:       slog.Default(),
		RelayPath:    cfg.RelayPath,
		CallbackPath: cfg.CallbackPath,
	})
	if cfg.BasePath != "" {
		handler = http.StripPrefix(cfg.BasePath, handler)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("Flowlens configured",
		"base_url", cfg.BaseURL,
		"redirect_uri", cfg.RedirectURI(),
		"delivery_mode", cfg.DeliveryMode,
		"relay_url", cfg.RelayURL(),
		"persistent", !memoryOnly,
	)

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSSelfSigned {
			tlsCert, certErr := generateSelfSignedTLSCert()
			if certErr != nil {
				serveErr <- fmt.Errorf("generate self-signed TLS certificate: %w", certErr)
				return
			}
			srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{tlsCert}}
			slog.Info("Listening (TLS, self-signed)", "addr", cfg.ListenAddr)
			err = srv.ListenAndServeTLS("", "")
		} else if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			slog.Info("Listening (TLS)", "addr", cfg.ListenAddr)
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			slog.Info("Listening", "addr", cfg.ListenAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		slog.Error("Server failed", "error", err)
		return err
	case <-shutdown:
	}
	slog.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero unless the server answers /healthz",
		RunE: func(_ *cobra.Command, _ []string) error {
			healthURL := os.Getenv("HEALTHCHECK_URL")
			if healthURL == "" {
				healthURL = "http://localhost:3000/healthz"
			}
			client := newHTTPClient(5*time.Second, true)
			resp, err := client.Get(healthURL)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthcheck: status %d", resp.StatusCode)
			}
			return nil
		},
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func generateSelfSignedTLSCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate RSA key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}
