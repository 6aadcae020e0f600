package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/knowledge"
)

func TestAssistService_GenerateJSON(t *testing.T) {
	casc := reply("Sure! Here you go: {\"a\":1} Hope that helps!")
	svc := NewAssistService(casc, nil)

	var out map[string]any
	require.NoError(t, svc.GenerateJSON(context.Background(), "test", "prompt", &out))
	assert.Equal(t, map[string]any{"a": float64(1)}, out)
	require.Len(t, casc.prompts, 1)
	assert.Equal(t, knowledge.Default().JSONPrompt("prompt"), casc.prompts[0])
}

func TestAssistService_GenerateJSON_Failures(t *testing.T) {
	var out map[string]any

	err := NewAssistService(reply("{bad json}"), nil).GenerateJSON(context.Background(), "test", "p", &out)
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
	var inv *ai.InvalidStructuredOutputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "{bad json}", inv.Raw)

	err = NewAssistService(reply("no braces here"), nil).GenerateJSON(context.Background(), "test", "p", &out)
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)

	exhausted := &fakeCascade{invoke: func(context.Context, string) (ai.Result, error) {
		return ai.Result{}, &ai.ExhaustedError{}
	}}
	err = NewAssistService(exhausted, nil).GenerateJSON(context.Background(), "test", "p", &out)
	require.ErrorIs(t, err, domain.ErrAllModelsExhausted)

	err = NewAssistService(nil, nil).GenerateJSON(context.Background(), "test", "p", &out)
	require.ErrorIs(t, err, domain.ErrAllModelsExhausted)
}

func TestAssistService_Diagnose(t *testing.T) {
	casc := reply("```json\n{\"possible_conditions\":[{\"condition\":\"Viral Infection\",\"confidence\":0.75,\"description\":\"Common viral infection\",\"recommendations\":[\"Rest\",\"Stay hydrated\"]}]}\n```")
	svc := NewAssistService(casc, nil)

	got, err := svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"fever", " cough "}, Severity: "HIGH"})
	require.NoError(t, err)
	require.Len(t, got.PossibleConditions, 1)
	assert.Equal(t, "Viral Infection", got.PossibleConditions[0].Condition)
	assert.Equal(t, "High", got.Urgency)
	assert.Equal(t, DiagnosisDisclaimer, got.Disclaimer)
	assert.Contains(t, casc.prompts[0], "Reported symptoms: fever, cough. Severity: high.")
	assert.True(t, strings.HasPrefix(casc.prompts[0], "You are HealthAI"))

	got, err = svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"headache"}})
	require.NoError(t, err)
	assert.Equal(t, "Medium", got.Urgency)
}

func TestAssistService_Diagnose_Rejects(t *testing.T) {
	svc := NewAssistService(reply(`{"possible_conditions":[]}`), nil)
	_, err := svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"fever"}})
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)

	svc = NewAssistService(reply(`{"possible_conditions":[{"condition":"Flu","confidence":7}]}`), nil)
	_, err = svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"fever"}})
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)

	_, err = svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"  "}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.Diagnose(context.Background(), DiagnosisRequest{Symptoms: []string{"fever"}, Severity: "extreme"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCarbonFootprint(t *testing.T) {
	assert.InDelta(t, 20.0, CarbonFootprint("travel", 100), 1e-9)
	assert.InDelta(t, 50.0, CarbonFootprint("electricity", 100), 1e-9)
	assert.InDelta(t, 5.0, CarbonFootprint("waste", 10), 1e-9)
}

func TestAssistService_AdviseCarbon(t *testing.T) {
	casc := reply(`Advice: {"recommendations":["Use public transport"," ","Plant a tree"],"summary":" Moderate footprint. "}`)
	svc := NewAssistService(casc, nil)

	got, err := svc.AdviseCarbon(context.Background(), CarbonRequest{ActivityType: "travel", Value: 120})
	require.NoError(t, err)
	assert.InDelta(t, 24.0, got.CarbonFootprint, 1e-9)
	assert.Equal(t, CarbonUnit, got.Unit)
	assert.Equal(t, []string{"Use public transport", "Plant a tree"}, got.Recommendations)
	assert.Equal(t, "Moderate footprint.", got.Summary)
	assert.Contains(t, casc.prompts[0], "footprint 24.00 kg CO2e")

	_, err = svc.AdviseCarbon(context.Background(), CarbonRequest{ActivityType: "flying", Value: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.AdviseCarbon(context.Background(), CarbonRequest{ActivityType: "food", Value: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewAssistService(reply(`{"recommendations":[]}`), nil).AdviseCarbon(context.Background(), CarbonRequest{ActivityType: "food", Value: 1})
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestAssistService_SynthesizeReport(t *testing.T) {
	casc := reply(`{"summary":"Leaf rust on 20% of plants","risk_level":"Medium","next_steps":["Remove infected leaves","Spray fungicide"]}`)
	svc := NewAssistService(casc, nil)

	got, err := svc.SynthesizeReport(context.Background(), ScanRequest{Domain: "agriculture", Findings: []string{"orange pustules on leaves", "yellowing"}})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainAgriculture, got.Domain)
	assert.Equal(t, "medium", got.RiskLevel)
	assert.Len(t, got.NextSteps, 2)
	assert.Contains(t, casc.prompts[0], "- orange pustules on leaves\n- yellowing")

	_, err = svc.SynthesizeReport(context.Background(), ScanRequest{Domain: "ocean", Findings: []string{"x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.SynthesizeReport(context.Background(), ScanRequest{Domain: "healthcare"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewAssistService(reply(`{"summary":"ok","risk_level":"severe"}`), nil).
		SynthesizeReport(context.Background(), ScanRequest{Domain: "environment", Findings: []string{"smoke"}})
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}
