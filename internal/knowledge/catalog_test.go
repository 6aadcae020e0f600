package knowledge_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/knowledge"
)

func TestCompose_Golden(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()

	want := "You are HealthAI, a responsible healthcare assistant. You help with symptoms, appointments, medication questions, health monitoring and prevention.\n" +
		"\n" +
		"Guidelines:\n" +
		"- Give safe, general information only; never state a definitive diagnosis or prescribe doses.\n" +
		"- Always recommend consulting a qualified doctor for persistent or serious symptoms.\n" +
		"- If the message suggests an emergency, tell the user to call 108 (emergency) or 102 (ambulance) immediately.\n" +
		"- Keep the answer under 150 words.\n" +
		"\n" +
		"User: I have a headache\n" +
		"Assistant:"
	assert.Equal(t, want, c.Compose(domain.DomainHealthcare, "I have a headache"))
	// pure: same input, same output
	assert.Equal(t, c.Compose(domain.DomainHealthcare, "I have a headache"), c.Compose(domain.DomainHealthcare, "I have a headache"))
}

func TestCompose_UnknownDomainUsesGenericTemplate(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	got := c.Compose(domain.Domain("weather"), "hello")
	assert.Equal(t, "You are a helpful assistant for the EcoHealth platform, which covers agriculture, healthcare and the environment.\n"+
		"\n"+
		"Guidelines:\n"+
		"- Answer clearly and concisely, in at most 150 words.\n"+
		"- If the question is outside your knowledge, say so instead of guessing.\n"+
		"\n"+
		"User: hello\n"+
		"Assistant:", got)
}

func TestCompose_EachDomainHasDistinctPersona(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	seen := map[string]bool{}
	for _, d := range domain.ChatDomains {
		p := c.Compose(d, "x")
		assert.Contains(t, p, "\n\nUser: x\nAssistant:")
		assert.False(t, seen[p], "duplicate template for %s", d)
		seen[p] = true
	}
}

func TestJSONPrompt(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	assert.Equal(t, "base\n\nIMPORTANT: Return ONLY a valid JSON object. No markdown, no explanations.", c.JSONPrompt("base"))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	tests := []struct {
		name   string
		domain domain.Domain
		msg    string
		want   string
	}{
		{"agri pest", domain.DomainAgriculture, "My wheat has a PEST problem", "crop_disease"},
		{"agri devanagari soil", domain.DomainAgriculture, "मिट्टी की जांच कैसे करें", "soil"},
		{"agri hinglish market", domain.DomainAgriculture, "Mandi bhav kya hai", "market"},
		{"agri greeting", domain.DomainAgriculture, "Namaste", "greeting"},
		{"agri default", domain.DomainAgriculture, "Tell me about tractors", "general_agriculture"},
		{"agri first rule wins", domain.DomainAgriculture, "pest after rain", "crop_disease"},
		{"health fever", domain.DomainHealthcare, "I have a fever since yesterday", "symptoms"},
		{"health emergency", domain.DomainHealthcare, "Call an ambulance", "emergency"},
		{"health devanagari", domain.DomainHealthcare, "मुझे बुखार है", "symptoms"},
		{"env aqi", domain.DomainEnvironment, "What is the AQI today", "air_quality"},
		{"env solar", domain.DomainEnvironment, "Solar panels", "energy"},
		{"env default", domain.DomainEnvironment, "xyz", "general_environment"},
		{"general default", domain.DomainGeneral, "what can you do", "general"},
		{"unknown domain", domain.Domain("weather"), "rain", "general_weather"},
		{"empty domain", domain.Domain(""), "rain", "general"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.Classify(tt.msg, tt.domain))
		})
	}
}

func TestClassify_NeverEmpty(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	for _, d := range append(domain.ChatDomains, domain.DomainGeneral) {
		assert.NotEmpty(t, c.Classify("", d))
		assert.Equal(t, c.DefaultIntent(d), c.Classify("zzz", d))
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	for _, d := range domain.ChatDomains {
		assert.NotEmpty(t, c.Fallback(d))
	}
	assert.Contains(t, c.Fallback(domain.DomainHealthcare), "108")
	assert.Equal(t, "Sorry, the assistant is unavailable right now. Please try again in a few minutes.", c.Fallback(domain.Domain("unknown")))
}

func TestIntents_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c := knowledge.Default()
	rules := c.Intents(domain.DomainAgriculture)
	require.NotEmpty(t, rules)
	assert.Equal(t, "crop_disease", rules[0].Tag)
	rules[0].Tag = "mutated"
	assert.Equal(t, "crop_disease", c.Intents(domain.DomainAgriculture)[0].Tag)
	assert.Nil(t, c.Intents(domain.Domain("nope")))
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "generic: {persona: p, fallback: f}\nextra: 1\n"},
		{"missing generic", "domains: {}\n"},
		{"unknown domain", "generic: {persona: p, fallback: f}\ndomains:\n  weather: {persona: p, fallback: f}\n"},
		{"rule without keywords", "generic: {persona: p, fallback: f}\ndomains:\n  agriculture:\n    persona: p\n    fallback: f\n    intents:\n      - tag: soil\n"},
		{"not yaml", "::::"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := knowledge.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
		})
	}
}

func TestParse_DefaultIntentDerivedFromDomain(t *testing.T) {
	t.Parallel()
	c, err := knowledge.Parse([]byte("generic: {persona: p, fallback: f}\ndomains:\n  environment:\n    persona: eco\n    fallback: sorry\n    intents:\n      - tag: waste\n        keywords: [Garbage]\n"))
	require.NoError(t, err)
	assert.Equal(t, "general_environment", c.Classify("nothing", domain.DomainEnvironment))
	assert.Equal(t, "waste", c.Classify("GARBAGE pickup", domain.DomainEnvironment))
	assert.Equal(t, "eco\n\nUser: m\nAssistant:", c.Compose(domain.DomainEnvironment, "m"))
}

func TestLoad_FromFileAndEmbedded(t *testing.T) {
	t.Parallel()
	c, err := knowledge.Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Fallback(domain.DomainAgriculture))

	dir := t.TempDir()
	p := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte("generic: {persona: g, fallback: gf}\n"), 0o600))
	c, err = knowledge.Load(p)
	require.NoError(t, err)
	assert.Equal(t, "gf", c.Fallback(domain.DomainAgriculture))

	_, err = knowledge.Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
