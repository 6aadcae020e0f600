package usecase

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/knowledge"
)

// CarbonUnit is the unit of every carbon footprint figure.
const CarbonUnit = "kg CO2e"

// DiagnosisDisclaimer accompanies every diagnosis.
const DiagnosisDisclaimer = "AI-assisted suggestion only. This is not a medical diagnosis; consult a qualified doctor."

// carbonFactors are kg CO2e per unit of activity. Unknown types use defaultCarbonFactor.
var carbonFactors = map[string]float64{
	"travel": 0.2,
}

const defaultCarbonFactor = 0.5

// AssistService serves the typed JSON callers. Unlike chat there is no canned
// fallback: exhaustion and malformed output are returned as errors.
type AssistService struct {
	Cascade Cascade
	Catalog *knowledge.Catalog
}

// NewAssistService wires the structured assistants. A nil cascade disables them.
func NewAssistService(c Cascade, catalog *knowledge.Catalog) *AssistService {
	if catalog == nil {
		catalog = knowledge.Default()
	}
	return &AssistService{Cascade: c, Catalog: catalog}
}

// GenerateJSON runs prompt through the cascade with the strict-JSON
// instruction and decodes the embedded object into v. caller labels metrics.
func (s *AssistService) GenerateJSON(ctx domain.Context, caller, prompt string, v any) error {
	if s.Cascade == nil {
		return fmt.Errorf("op=assist.%s: %w: no provider configured", caller, domain.ErrAllModelsExhausted)
	}
	res, err := s.Cascade.Invoke(ctx, s.Catalog.JSONPrompt(prompt))
	if err != nil {
		return fmt.Errorf("op=assist.%s: %w", caller, err)
	}
	if err := ai.DecodeJSON(res.Text, v); err != nil {
		observability.StructuredOutputFailuresTotal.WithLabelValues(caller).Inc()
		observability.LoggerFromContext(ctx).Warn("structured output rejected",
			slog.String("caller", caller), slog.String("model", res.Model), slog.Any("error", err))
		return fmt.Errorf("op=assist.%s: %w", caller, err)
	}
	return nil
}

func invalidOutput(raw any, msg string) error {
	return &ai.InvalidStructuredOutputError{Raw: fmt.Sprintf("%+v", raw), Message: msg}
}

// DiagnosisRequest lists reported symptoms.
type DiagnosisRequest struct {
	Symptoms []string
	Severity string
}

// Condition is one candidate explanation of the symptoms.
type Condition struct {
	Condition       string   `json:"condition"`
	Confidence      float64  `json:"confidence"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

// Diagnosis is the diagnosis assistant's answer.
type Diagnosis struct {
	PossibleConditions []Condition `json:"possible_conditions"`
	Urgency            string      `json:"urgency"`
	Disclaimer         string      `json:"disclaimer"`
}

// Diagnose asks the cascade for candidate conditions.
func (s *AssistService) Diagnose(ctx domain.Context, req DiagnosisRequest) (Diagnosis, error) {
	symptoms := cleanList(req.Symptoms)
	if len(symptoms) == 0 || len(symptoms) > 20 {
		return Diagnosis{}, fmt.Errorf("%w: between 1 and 20 symptoms are required", domain.ErrInvalidArgument)
	}
	severity := strings.ToLower(strings.TrimSpace(req.Severity))
	switch severity {
	case "":
		severity = "medium"
	case "low", "medium", "high":
	default:
		return Diagnosis{}, fmt.Errorf("%w: severity must be low, medium or high", domain.ErrInvalidArgument)
	}

	prompt := s.Catalog.Compose(domain.DomainHealthcare,
		"Reported symptoms: "+strings.Join(symptoms, ", ")+". Severity: "+severity+".\n"+
			`List up to 3 possible conditions as {"possible_conditions":[{"condition":string,"confidence":number between 0 and 1,"description":string,"recommendations":[string]}]}.`)
	var out struct {
		PossibleConditions []Condition `json:"possible_conditions"`
	}
	if err := s.GenerateJSON(ctx, "diagnosis", prompt, &out); err != nil {
		return Diagnosis{}, err
	}
	if len(out.PossibleConditions) == 0 {
		return Diagnosis{}, invalidOutput(out, "possible_conditions is empty")
	}
	for _, c := range out.PossibleConditions {
		if strings.TrimSpace(c.Condition) == "" || c.Confidence < 0 || c.Confidence > 1 {
			return Diagnosis{}, invalidOutput(c, "condition entry is incomplete or confidence out of range")
		}
	}
	urgency := "Medium"
	if severity == "high" {
		urgency = "High"
	}
	return Diagnosis{PossibleConditions: out.PossibleConditions, Urgency: urgency, Disclaimer: DiagnosisDisclaimer}, nil
}

// CarbonRequest describes one activity to account for.
type CarbonRequest struct {
	ActivityType string
	Value        float64
}

// CarbonAdvice is the carbon calculator's answer. The footprint is computed
// locally; only the advice comes from the model.
type CarbonAdvice struct {
	CarbonFootprint float64  `json:"carbon_footprint"`
	Unit            string   `json:"unit"`
	Recommendations []string `json:"recommendations"`
	Summary         string   `json:"summary"`
}

// CarbonFootprint returns value times the activity's emission factor.
func CarbonFootprint(activity string, value float64) float64 {
	f, ok := carbonFactors[activity]
	if !ok {
		f = defaultCarbonFactor
	}
	return value * f
}

// AdviseCarbon computes the footprint and asks the cascade for reduction advice.
func (s *AssistService) AdviseCarbon(ctx domain.Context, req CarbonRequest) (CarbonAdvice, error) {
	activity := strings.ToLower(strings.TrimSpace(req.ActivityType))
	switch activity {
	case "travel", "electricity", "food", "waste":
	default:
		return CarbonAdvice{}, fmt.Errorf("%w: activity_type must be travel, electricity, food or waste", domain.ErrInvalidArgument)
	}
	if req.Value < 0 {
		return CarbonAdvice{}, fmt.Errorf("%w: value must not be negative", domain.ErrInvalidArgument)
	}
	footprint := CarbonFootprint(activity, req.Value)

	prompt := s.Catalog.Compose(domain.DomainEnvironment,
		"Activity: "+activity+", amount "+strconv.FormatFloat(req.Value, 'f', -1, 64)+
			", footprint "+strconv.FormatFloat(footprint, 'f', 2, 64)+" "+CarbonUnit+".\n"+
			`Suggest how to reduce it as {"recommendations":[string],"summary":string}.`)
	var out struct {
		Recommendations []string `json:"recommendations"`
		Summary         string   `json:"summary"`
	}
	if err := s.GenerateJSON(ctx, "carbon", prompt, &out); err != nil {
		return CarbonAdvice{}, err
	}
	recs := cleanList(out.Recommendations)
	if len(recs) == 0 {
		return CarbonAdvice{}, invalidOutput(out, "recommendations is empty")
	}
	return CarbonAdvice{CarbonFootprint: footprint, Unit: CarbonUnit, Recommendations: recs, Summary: strings.TrimSpace(out.Summary)}, nil
}

// ScanRequest carries findings from a field scan (crop, patient vitals, site survey).
type ScanRequest struct {
	Domain   string
	Findings []string
}

// ScanReport is a synthesized report over scan findings.
type ScanReport struct {
	Domain    domain.Domain `json:"domain"`
	Summary   string        `json:"summary"`
	RiskLevel string        `json:"risk_level"`
	NextSteps []string      `json:"next_steps"`
}

// SynthesizeReport synthesizes findings into a report in the domain's voice.
func (s *AssistService) SynthesizeReport(ctx domain.Context, req ScanRequest) (ScanReport, error) {
	d, ok := domain.ParseDomain(req.Domain)
	if !ok {
		return ScanReport{}, fmt.Errorf("%w: invalid domain %q", domain.ErrInvalidArgument, req.Domain)
	}
	findings := cleanList(req.Findings)
	if len(findings) == 0 || len(findings) > 50 {
		return ScanReport{}, fmt.Errorf("%w: between 1 and 50 findings are required", domain.ErrInvalidArgument)
	}

	prompt := s.Catalog.Compose(d,
		"Scan findings:\n- "+strings.Join(findings, "\n- ")+"\n"+
			`Write a report as {"summary":string,"risk_level":"low"|"medium"|"high","next_steps":[string]}.`)
	var out struct {
		Summary   string   `json:"summary"`
		RiskLevel string   `json:"risk_level"`
		NextSteps []string `json:"next_steps"`
	}
	if err := s.GenerateJSON(ctx, "scan_report", prompt, &out); err != nil {
		return ScanReport{}, err
	}
	risk := strings.ToLower(strings.TrimSpace(out.RiskLevel))
	if strings.TrimSpace(out.Summary) == "" {
		return ScanReport{}, invalidOutput(out, "summary is empty")
	}
	switch risk {
	case "low", "medium", "high":
	default:
		return ScanReport{}, invalidOutput(out, "risk_level must be low, medium or high")
	}
	return ScanReport{Domain: d, Summary: strings.TrimSpace(out.Summary), RiskLevel: risk, NextSteps: cleanList(out.NextSteps)}, nil
}

// cleanList trims entries and drops blanks.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
