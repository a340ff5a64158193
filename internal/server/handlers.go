package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"baizecli/internal/config"
	apierrors "baizecli/internal/errors"
	"baizecli/internal/issuer"
	"baizecli/internal/license"
)

// validateRequest is the activation request sent by the desktop client.
type validateRequest struct {
	Key        string `json:"key" validate:"required"`
	InstanceID string `json:"instance_id" validate:"required"`
}

// validateResponse mirrors the client contract: business rejections are a
// 200 with valid=false and a displayable reason.
type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.metrics.validations.WithLabelValues(outcomeError).Inc()
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.metrics.validations.WithLabelValues(outcomeError).Inc()
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	code := license.NormalizeCode(req.Key)
	if err := license.ValidateCodeFormat(code); err != nil {
		s.metrics.validations.WithLabelValues(outcomeRejected).Inc()
		render.JSON(w, r, validateResponse{Valid: false, Reason: err.Error()})
		return
	}

	ok, reason, err := s.svc.Redeem(r.Context(), code, req.InstanceID)
	if err != nil {
		s.metrics.validations.WithLabelValues(outcomeError).Inc()
		apierrors.WriteError(w, r, err)
		return
	}

	if ok {
		s.metrics.validations.WithLabelValues(outcomeAccepted).Inc()
	} else {
		s.metrics.validations.WithLabelValues(outcomeRejected).Inc()
	}
	render.JSON(w, r, validateResponse{Valid: ok, Reason: reason})
}

type createCheckoutRequest struct {
	ProductID           string `json:"product_id" validate:"required"`
	HardwareFingerprint string `json:"hardware_fingerprint" validate:"required"`
	LocalSessionID      string `json:"local_session_id"`
	ClientVersion       string `json:"client_version"`
	Timestamp           int64  `json:"timestamp"`
}

type createCheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if req.ProductID != config.ProductID {
		apierrors.WriteError(w, r, apierrors.ErrValidation("product_id", "unknown product"))
		return
	}

	session, err := s.svc.CreateCheckout(r.Context(), req.HardwareFingerprint, req.LocalSessionID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	s.metrics.sessionsCreated.Inc()
	render.JSON(w, r, createCheckoutResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.SessionID,
	})
}

type checkStatusRequest struct {
	SessionID           string `json:"session_id" validate:"required"`
	HardwareFingerprint string `json:"hardware_fingerprint" validate:"required"`
	Timestamp           int64  `json:"timestamp"`
}

type checkStatusResponse struct {
	Status         string `json:"status"`
	ActivationCode string `json:"activation_code,omitempty"`
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	var req checkStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	status, code, fingerprint, err := s.sessionStatusForDevice(r, req.SessionID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	// The activation code is only released to the device that opened the
	// session.
	if fingerprint != req.HardwareFingerprint {
		apierrors.WriteError(w, r, apierrors.ErrForbidden)
		return
	}

	render.JSON(w, r, checkStatusResponse{Status: status, ActivationCode: code})
}

func (s *Server) sessionStatusForDevice(r *http.Request, sessionID string) (status, code, fingerprint string, err error) {
	rec, err := s.svc.Session(r.Context(), sessionID)
	if errors.Is(err, issuer.ErrSessionNotFound) {
		return "", "", "", apierrors.ErrSessionNotFound
	}
	if err != nil {
		return "", "", "", err
	}

	status, code, err = s.svc.SessionStatus(r.Context(), sessionID)
	if err != nil {
		return "", "", "", err
	}
	return status, code, rec.HardwareFingerprint, nil
}

// webhookRequest is the payment provider's completion notification. Provider
// signature verification happens at the ingress proxy.
type webhookRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	EventType string `json:"event_type" validate:"required"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if req.EventType != "checkout.completed" {
		// Unknown events are acknowledged so the provider stops retrying.
		render.JSON(w, r, map[string]bool{"received": true})
		return
	}

	if _, err := s.svc.CompletePayment(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, issuer.ErrSessionNotFound) {
			apierrors.WriteError(w, r, apierrors.ErrSessionNotFound)
			return
		}
		apierrors.WriteError(w, r, err)
		return
	}

	s.metrics.paymentsCompleted.Inc()
	s.metrics.codesIssued.Inc()
	render.JSON(w, r, map[string]bool{"received": true})
}

type generateCodeRequest struct {
	CustomerEmail       string `json:"customer_email" validate:"omitempty,email"`
	ExpiresDays         int    `json:"expires_days" validate:"gte=0"`
	MaxActivations      int    `json:"max_activations" validate:"gte=0"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		apierrors.WriteError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	issued, err := s.svc.GenerateCode(r.Context(), issuer.GenerateParams{
		CustomerEmail:  req.CustomerEmail,
		ExpiresDays:    req.ExpiresDays,
		MaxActivations: req.MaxActivations,
		Fingerprint:    req.HardwareFingerprint,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	s.metrics.codesIssued.Inc()
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, issued)
}

type healthResponse struct {
	Status  string `json:"status"`
	Product string `json:"product"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:  "ok",
		Product: config.ProductID,
		Version: config.ProductVersion,
	})
}
