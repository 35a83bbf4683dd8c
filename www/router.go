// Package www exposes the gateway's REST API.
package www

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dvasquez01/pyomron-fins/fins"
	"github.com/dvasquez01/pyomron-fins/gateway"
)

// Gateway is the controller-management surface the API needs.
// *gateway.Manager satisfies it.
type Gateway interface {
	ListPLCs() []*gateway.ManagedPLC
	GetPLC(name string) *gateway.ManagedPLC
	ReadAdhoc(plcName, address string, count uint16) ([]uint16, error)
	WriteTag(plcName, tagName string, values []uint16) error
	WriteAdhoc(plcName, address string, values []uint16) error
	ControllerStatus(plcName string) (fins.ControllerStatus, error)
	ControllerClock(plcName string) (fins.Clock, error)
}

// Handlers holds the REST API handlers.
type Handlers struct {
	gw Gateway
}

// NewRouter creates the REST API router.
func NewRouter(gw Gateway) chi.Router {
	h := &Handlers{gw: gw}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/plcs", h.handlePLCList)

		r.Route("/plcs/{name}", func(r chi.Router) {
			r.Get("/", h.handlePLCGet)
			r.Get("/values", h.handlePLCValues)
			r.Get("/read", h.handlePLCRead)
			r.Post("/write", h.handlePLCWrite)
			r.Get("/status", h.handlePLCStatus)
			r.Get("/clock", h.handlePLCClock)
		})
	})

	return r
}
