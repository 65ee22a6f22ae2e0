package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"skyfare/config"
)

type Clients struct {
	Provider *http.Client // retried, optionally proxied, for provider endpoints
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil

	if proxyCfg != nil && proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err == nil {
			rc.HTTPClient.Transport = &http.Transport{
				Proxy:             http.ProxyURL(proxyURL),
				ForceAttemptHTTP2: false,
				TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
			}
		}
	}

	provider := rc.StandardClient()
	provider.Timeout = 30 * time.Second

	return &Clients{Provider: provider}
}
