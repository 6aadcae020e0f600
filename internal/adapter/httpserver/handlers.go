package httpserver

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/config"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/usecase"
)

// ReadinessCheck checks one dependency for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg    config.Config
	Chat   *usecase.ChatService
	Assist *usecase.AssistService
	Checks []ReadinessCheck
	// Breakers, when set, lists cascade models whose circuit is open.
	Breakers BreakerStatus
}

// BreakerStatus reports open model circuits.
type BreakerStatus interface {
	OpenModels() []string
}

// NewServer constructs the handler set.
func NewServer(cfg config.Config, chat *usecase.ChatService, assist *usecase.AssistService, checks ...ReadinessCheck) *Server {
	return &Server{Cfg: cfg, Chat: chat, Assist: assist, Checks: checks}
}

type chatRequest struct {
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"sessionId" validate:"max=128"`
	Domain    string `json:"domain" validate:"max=32"`
}

type chatResponse struct {
	Success   bool          `json:"success"`
	Response  string        `json:"response"`
	Domain    domain.Domain `json:"domain"`
	Intent    string        `json:"intent"`
	Synthetic bool          `json:"synthetic"`
}

// ChatHandler serves POST /chat and POST /chat/{domain}. A path domain
// overrides the body's.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if details, err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if d := chi.URLParam(r, "domain"); d != "" {
			req.Domain = d
		}
		rep, err := s.Chat.Reply(r.Context(), usecase.ChatRequest{Message: req.Message, SessionID: req.SessionID, Domain: req.Domain})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Success: true, Response: rep.Response, Domain: rep.Domain, Intent: rep.Intent, Synthetic: rep.Synthetic})
	}
}

// HistoryHandler serves GET /chat/history?sessionId=&domain=.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if len(q.Get("sessionId")) > 128 {
			writeError(w, r, errInvalid("sessionId must be at most 128 characters"), nil)
			return
		}
		turns, err := s.Chat.History(r.Context(), q.Get("sessionId"), q.Get("domain"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": turns})
	}
}

type diagnosisRequest struct {
	Symptoms []string `json:"symptoms" validate:"required,min=1,max=20,dive,required,max=200"`
	Severity string   `json:"severity" validate:"omitempty,oneof=low medium high"`
}

// DiagnosisHandler serves POST /assist/diagnosis.
func (s *Server) DiagnosisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req diagnosisRequest
		if details, err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		out, err := s.Assist.Diagnose(r.Context(), usecase.DiagnosisRequest{Symptoms: req.Symptoms, Severity: req.Severity})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":             true,
			"possible_conditions": out.PossibleConditions,
			"urgency":             out.Urgency,
			"disclaimer":          out.Disclaimer,
		})
	}
}

type carbonRequest struct {
	ActivityType string   `json:"activity_type" validate:"required,oneof=travel electricity food waste"`
	Value        *float64 `json:"value" validate:"required,gte=0"`
}

// CarbonHandler serves POST /assist/carbon.
func (s *Server) CarbonHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req carbonRequest
		if details, err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		out, err := s.Assist.AdviseCarbon(r.Context(), usecase.CarbonRequest{ActivityType: req.ActivityType, Value: *req.Value})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"carbon_footprint": out.CarbonFootprint,
			"unit":             out.Unit,
			"recommendations":  out.Recommendations,
			"summary":          out.Summary,
		})
	}
}

type scanReportRequest struct {
	Domain   string   `json:"domain" validate:"required,oneof=agriculture healthcare environment general"`
	Findings []string `json:"findings" validate:"required,min=1,max=50,dive,required,max=500"`
}

// ScanReportHandler serves POST /assist/scan-report.
func (s *Server) ScanReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanReportRequest
		if details, err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		out, err := s.Assist.SynthesizeReport(r.Context(), usecase.ScanRequest{Domain: req.Domain, Findings: req.Findings})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"domain":     out.Domain,
			"summary":    out.Summary,
			"risk_level": out.RiskLevel,
			"next_steps": out.NextSteps,
		})
	}
}

// IntentsHandler serves GET /admin/intents?domain=. With a domain, the
// response also lists every tag the classifier can assign there.
func (s *Server) IntentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("domain")
		counts, err := s.Chat.IntentCounts(r.Context(), q)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if counts == nil {
			counts = []domain.IntentCount{}
		}
		body := map[string]any{"success": true, "intents": counts}
		if d, ok := domain.ParseDomain(q); ok {
			body["known"] = s.Chat.KnownIntents(d)
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
	}
}

// ReadyzHandler runs every configured check and answers 503 if any fails.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks)+1)
		ok := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		mode := "cascade"
		if s.Chat != nil && s.Chat.FallbackOnly() {
			mode = "fallback_only"
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		body := map[string]any{"success": ok, "checks": checks, "mode": mode}
		if s.Breakers != nil {
			open := s.Breakers.OpenModels()
			sort.Strings(open)
			if open == nil {
				open = []string{}
			}
			// open circuits degrade the cascade, not readiness
			body["open_circuits"] = open
		}
		writeJSON(w, st, body)
	}
}
