// Copyright 2025 The SEYOAWE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient is the shared HTTP client factory. Every outbound
// call from a module goes through a client built here, so TLS floor,
// pooling, and timeout behavior stay uniform across the daemon.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Config controls client construction.
type Config struct {
	// Timeout bounds one request end to end. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultTimeout applies when a config carries no timeout.
const DefaultTimeout = 30 * time.Second

// New builds an HTTP client with TLS 1.2+, connection pooling, and the
// configured timeout.
func New(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{next: transport, agent: cfg.UserAgent}
	}

	return &http.Client{Transport: rt, Timeout: timeout}
}

// userAgentTransport stamps the configured User-Agent on every request.
type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		clone := req.Clone(req.Context())
		clone.Header.Set("User-Agent", t.agent)
		req = clone
	}
	return t.next.RoundTrip(req)
}
