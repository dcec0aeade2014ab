// Package httpserver exposes the certificate platform over HTTP.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/taxpoynt/certmgr/internal/common"
)

// NewRouter builds the API router over the handler set.
func NewRouter(h *Handler, logger common.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthcheck", h.Healthcheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/certificates", func(r chi.Router) {
			r.Post("/", h.StoreCertificate)
			r.Get("/", h.ListCertificates)
			r.Post("/self-signed", h.IssueSelfSigned)
			r.Post("/firs", h.IssueFIRS)
			r.Get("/expiring", h.ExpiringCertificates)
			r.Get("/statistics", h.StorageStatistics)

			r.Route("/{certificateID}", func(r chi.Router) {
				r.Get("/", h.GetCertificate)
				r.Delete("/", h.ArchiveCertificate)
				r.Get("/chain", h.GetCertificateChain)
				r.Get("/export", h.ExportCertificate)
				r.Get("/compliance", h.ComplianceCheck)
				r.Get("/revocation", h.CheckRevocation)
				r.Patch("/status", h.UpdateCertificateStatus)
				r.Post("/renew", h.RenewCertificate)
				r.Post("/revoke", h.RevokeCertificate)
			})
		})

		r.Post("/sign", h.SignData)
		r.Post("/verify", h.VerifySignature)

		r.Route("/lifecycle", func(r chi.Router) {
			r.Get("/expiration", h.ExpirationReport)
			r.Get("/compliance", h.ComplianceReport)
			r.Get("/events", h.LifecycleEvents)
			r.Post("/auto-renew", h.AutomaticRenewal)
		})

		r.Route("/cas", func(r chi.Router) {
			r.Post("/", h.RegisterCA)
			r.Get("/", h.ListCAs)
			r.Get("/statistics", h.CAStatistics)
			r.Post("/validate-chain", h.ValidateChain)

			r.Route("/{caID}", func(r chi.Router) {
				r.Get("/chain", h.CAChain)
				r.Patch("/status", h.UpdateCAStatus)
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateCertificateRequest)
			r.Get("/", h.ListCertificateRequests)
			r.Get("/{requestID}", h.GetCertificateRequest)
			r.Post("/{requestID}/submit", h.SubmitCertificateRequest)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.ListKeys)
			r.Post("/validate", h.ValidateKeyStrength)
		})
	})

	return r
}
