// Package ctlstub mounts the router's operational endpoints: a
// connect-protocol health checker, gRPC reflection for it, and the
// Prometheus scrape endpoint. The full I2PControl JSON-RPC surface is
// out of scope; this stub is the only external control surface the
// router core exposes.
package ctlstub

import (
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"connectrpc.com/otelconnect"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-i2p/kovri/internal/obs"
)

// Handler mounts the operational endpoints onto an HTTP mux.
type Handler struct {
	checker *grpchealth.StaticChecker
}

// NewHandler returns a Handler whose health checker starts serving.
func NewHandler() *Handler {
	return &Handler{checker: grpchealth.NewStaticChecker()}
}

// Mount registers health, reflection, and metrics endpoints.
func (h *Handler) Mount(mux *http.ServeMux) error {
	if err := obs.InitMeterProvider(); err != nil {
		return err
	}

	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return err
	}
	interceptors := connect.WithInterceptors(otelInterceptor)

	mux.Handle(grpchealth.NewHandler(h.checker, interceptors))

	reflector := grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))

	mux.Handle("/metrics", promhttp.Handler())

	return nil
}

// SetServing flips the health status once the router tasks are up.
func (h *Handler) SetServing(serving bool) {
	status := grpchealth.StatusNotServing
	if serving {
		status = grpchealth.StatusServing
	}
	h.checker.SetStatus("", status)
}
