package app

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"brokerlink/internal/broker"
	"brokerlink/internal/keystore"
	"brokerlink/internal/protocol/handshake"
	"brokerlink/internal/protocol/oauth"
	"brokerlink/internal/session"
	"brokerlink/internal/store"
)

// Wire bundles the constructed dependency graph for the CLI.
type Wire struct {
	Config   Config
	Log      *logrus.Logger
	Keys     *keystore.KeyMaterial
	Tokens   *store.FileStore
	Signer   *oauth.Signer
	Machine  *handshake.Machine
	Sessions *session.Manager
	Client   *broker.Client
}

// NewWire constructs the dependency graph from cfg. Key material is loaded
// and validated here, so a misconfigured process dies before touching the
// network.
func NewWire(cfg Config) (*Wire, error) {
	log := newLogger(cfg)

	keys, err := keystore.Load(keystore.Paths{
		SignatureKey:  cfg.SignatureKeyPath,
		EncryptionKey: cfg.EncryptionKeyPath,
		DHParams:      cfg.DHParamsPath,
	})
	if err != nil {
		return nil, err
	}

	var storeOpts []store.Option
	if cfg.Passphrase != "" {
		storeOpts = append(storeOpts, store.WithPassphrase(cfg.Passphrase))
	}
	tokens := store.NewFileStore(cfg.TokenFilePath, storeOpts...)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	signer := oauth.NewSigner(cfg.ConsumerKey, cfg.Realm)

	machine := handshake.New(signer, keys, tokens, httpClient, log, handshake.Config{
		Endpoints: handshake.Endpoints{
			RequestToken: cfg.BaseURL + "/oauth/request_token",
			AccessToken:  cfg.BaseURL + "/oauth/access_token",
			LiveSession:  cfg.BaseURL + "/oauth/live_session_token",
		},
		Verifier:   cfg.Verifier,
		SessionTTL: cfg.SessionTTL,
		MaxRetries: cfg.MaxRetries,
	})

	sessions := session.NewManager(machine, cfg.RefreshMargin, log)
	transport := broker.NewTransport(httpClient, signer, sessions, tokens, log, cfg.MaxRetries)
	client := broker.NewClient(transport, cfg.BaseURL, 0)

	return &Wire{
		Config:   cfg,
		Log:      log,
		Keys:     keys,
		Tokens:   tokens,
		Signer:   signer,
		Machine:  machine,
		Sessions: sessions,
		Client:   client,
	}, nil
}

func newLogger(cfg Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
