package gateway

import (
	"fmt"

	"skyfare/config"
)

// NewProvider builds the client for one configured provider.
func NewProvider(cfg *config.ProviderConfig, client *Client) (Provider, error) {
	switch cfg.ID {
	case "alibaba":
		return NewAlibaba(cfg, client), nil
	case "mrbilit":
		return NewMrBilit(cfg, client), nil
	case "safar366":
		return NewSafar366(cfg, client), nil
	case "safarmarket":
		return NewSafarmarket(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.ID)
	}
}

// BuildProviders instantiates every enabled provider in query order.
func BuildProviders(cfg *config.Config, client *Client) ([]Provider, error) {
	var providers []Provider
	for _, id := range cfg.EnabledProviders() {
		p, err := NewProvider(cfg.Providers[id], client)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
