package apigw

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"s3proxy/logger"
)

// Gateway is the API Gateway module: HTTP request parsing and response
// writing around a RequestHandler.
type Gateway struct {
	config         Config
	handler        RequestHandler
	parser         *RequestParser
	responseWriter *ResponseWriter
	server         *http.Server
	metrics        *Metrics
}

// New builds a Gateway.
func New(config Config, handler RequestHandler) *Gateway {
	return &Gateway{
		config:         config,
		handler:        handler,
		parser:         NewRequestParser(),
		responseWriter: NewResponseWriter(),
		metrics:        NewMetrics(),
	}
}

// ServeHTTP implements http.Handler.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var latency float64
	logger.Info("Incoming request: %s %s", r.Method, r.URL.Path)
	logger.Debug("Request headers: %+v", r.Header)

	s3req, err := gw.parser.Parse(r)
	if err != nil {
		logger.Error("Failed to parse request: %v", err)
		s3resp := &S3Response{
			StatusCode: http.StatusBadRequest,
			Error:      fmt.Errorf("invalid request: %v", err),
		}
		gw.responseWriter.WriteResponse(w, s3resp)

		latency := time.Since(start).Seconds()
		gw.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(s3resp.StatusCode)).Inc()
		gw.metrics.RequestLatency.WithLabelValues(r.Method).Observe(latency)
		return
	}

	logger.Debug("Parsed S3 request: %+v", s3req)
	logger.Debug("Parsed operation: %s, Bucket: %s, Key: %s",
		s3req.Operation.String(), s3req.Bucket, s3req.Key)

	s3resp := gw.handler.Handle(s3req)
	logger.Debug("Handler response: %+v", s3resp)

	if err := gw.responseWriter.WriteResponse(w, s3resp); err != nil {
		logger.Error("Failed to write response: %v", err)
	}

	logger.Info("Response sent: %d, %.3f ms", s3resp.StatusCode, float64(time.Since(start).Microseconds())/1000.0)

	latency = time.Since(start).Seconds()
	gw.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(s3resp.StatusCode)).Inc()
	gw.metrics.RequestLatency.WithLabelValues(r.Method).Observe(latency)
}

// Start starts the HTTP server.
func (gw *Gateway) Start() error {
	gw.server = &http.Server{
		Addr:         gw.config.ListenAddress,
		Handler:      gw,
		ReadTimeout:  gw.config.ReadTimeout,
		WriteTimeout: gw.config.WriteTimeout,
	}

	logger.Info("Starting API Gateway on %s", gw.config.ListenAddress)

	if gw.config.TLSCertFile != "" && gw.config.TLSKeyFile != "" {
		logger.Info("Starting HTTPS server with TLS")
		return gw.server.ListenAndServeTLS(gw.config.TLSCertFile, gw.config.TLSKeyFile)
	}

	logger.Info("Starting HTTP server")
	return gw.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (gw *Gateway) Stop(ctx context.Context) error {
	if gw.server == nil {
		return nil
	}

	logger.Info("Stopping API Gateway...")
	return gw.server.Shutdown(ctx)
}
