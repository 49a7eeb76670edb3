package server

import (
	"context"
	"fmt"

	"github.com/opd-ai/friendrelay/config"
	"github.com/opd-ai/friendrelay/store"
	"github.com/opd-ai/friendrelay/transport"
)

// OpenStore creates the snapshot backend selected by cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreRedis:
		return store.DialRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case config.StoreFile, "":
		return store.NewFileStore(cfg.Path, cfg.Format)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

// NewAuthenticator creates the authenticator selected by cfg.
func NewAuthenticator(cfg config.TransportConfig) (transport.Authenticator, error) {
	switch cfg.Mode {
	case config.TransportTLS:
		tlsConfig, err := transport.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		return transport.NewTLSAuthenticator(tlsConfig), nil
	case config.TransportNoise:
		kp, err := transport.LoadKeyPair(cfg.Noise.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		keys, err := transport.LoadAuthorizedKeys(cfg.Noise.AuthorizedKeysFile)
		if err != nil {
			return nil, err
		}
		return transport.NewNoiseAuthenticator(kp, keys), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport mode %q", config.ErrInvalidConfig, cfg.Mode)
	}
}
