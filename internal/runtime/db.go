package runtime

import (
	"errors"

	"github.com/mohammad-safakhou/tradingagents/config"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
)

// ConnConfig builds validated store connection settings from the application
// configuration. A channel_binding flag in config is honoured in addition to
// the one carried in the URL.
func ConnConfig(cfg *config.Config) (store.ConnConfig, error) {
	if cfg == nil {
		return store.ConnConfig{}, errors.New("config is nil")
	}
	p := cfg.Storage.Postgres
	cc, err := store.ParseConnConfig(p.URL, p.PoolSize, p.SSLMode)
	if err != nil {
		return store.ConnConfig{}, err
	}
	if p.ChannelBinding {
		cc.ChannelBinding = true
	}
	return cc, nil
}
