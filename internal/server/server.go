package server

import (
	"fmt"
	"net/http"

	"github.com/oicur0t/sensorlog/internal/config"
	"github.com/oicur0t/sensorlog/pkg/mtls"
	"go.uber.org/zap"
)

// New builds the dashboard API server with its middleware chain and, when
// enabled, mTLS
func New(cfg config.HTTPServerConfig, tlsCfg config.ServerMTLSConfig, h *Handler, logger *zap.Logger) (*http.Server, error) {
	var handler http.Handler = h.Routes()
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if tlsCfg.Enabled {
		auth, err := mtls.ParseClientAuth(tlsCfg.ClientAuth)
		if err != nil {
			return nil, err
		}

		tlsConfig, err := mtls.LoadServerTLSConfig(tlsCfg.CACert, tlsCfg.ServerCert, tlsCfg.ServerKey, auth)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig

		if auth == mtls.ClientAuthRequire {
			handler = MTLSMiddleware(logger)(handler)
		}
	}

	srv.Handler = handler
	return srv, nil
}

// ListenAndServe starts srv with or without TLS depending on its config
func ListenAndServe(srv *http.Server) error {
	if srv.TLSConfig != nil {
		// Certificates come from TLSConfig
		return srv.ListenAndServeTLS("", "")
	}
	return srv.ListenAndServe()
}
