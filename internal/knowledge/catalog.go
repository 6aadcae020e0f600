// Package knowledge holds the static per-domain data the gateway runs on:
// prompt templates, intent rules and canned fallback replies.
//
// The catalog is data, not code. Adding a domain or an intent rule is an
// edit to catalog.yaml (or to the file named by PROMPT_CATALOG_PATH).
package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// IntentRule maps a keyword set to an intent tag.
type IntentRule struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Profile is the static data attached to one domain.
type Profile struct {
	Persona       string       `yaml:"persona"`
	Rules         []string     `yaml:"rules"`
	Fallback      string       `yaml:"fallback"`
	DefaultIntent string       `yaml:"default_intent"`
	Intents       []IntentRule `yaml:"intents"`
}

type catalogYAML struct {
	JSONSuffix string                    `yaml:"json_suffix"`
	Generic    Profile                   `yaml:"generic"`
	Domains    map[domain.Domain]Profile `yaml:"domains"`
}

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	jsonSuffix string
	generic    Profile
	domains    map[domain.Domain]Profile
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("knowledge: embedded catalog invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=knowledge.Load: %w", err)
	}
	// #nosec G304 -- operator supplied catalog path
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=knowledge.Load: %w", err)
	}
	c, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("op=knowledge.Load path=%s: %w", absPath, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Unknown fields are rejected.
func Parse(content []byte) (*Catalog, error) {
	var raw catalogYAML
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %v", domain.ErrInvalidArgument, err)
	}
	if strings.TrimSpace(raw.Generic.Persona) == "" || strings.TrimSpace(raw.Generic.Fallback) == "" {
		return nil, fmt.Errorf("%w: generic profile needs persona and fallback", domain.ErrInvalidArgument)
	}
	c := &Catalog{
		jsonSuffix: strings.TrimSpace(raw.JSONSuffix),
		generic:    normalize(raw.Generic),
		domains:    make(map[domain.Domain]Profile, len(raw.Domains)),
	}
	for d, p := range raw.Domains {
		if _, ok := domain.ParseDomain(string(d)); !ok {
			return nil, fmt.Errorf("%w: unknown domain %q", domain.ErrInvalidArgument, d)
		}
		if strings.TrimSpace(p.Persona) == "" || strings.TrimSpace(p.Fallback) == "" {
			return nil, fmt.Errorf("%w: domain %s needs persona and fallback", domain.ErrInvalidArgument, d)
		}
		for i, r := range p.Intents {
			if strings.TrimSpace(r.Tag) == "" || len(r.Keywords) == 0 {
				return nil, fmt.Errorf("%w: domain %s intent rule %d needs tag and keywords", domain.ErrInvalidArgument, d, i)
			}
		}
		if p.DefaultIntent == "" {
			p.DefaultIntent = "general_" + string(d)
		}
		c.domains[d] = normalize(p)
	}
	return c, nil
}

// keywords are stored lower-cased so Classify only lowers the message.
func normalize(p Profile) Profile {
	p.Persona = strings.TrimSpace(p.Persona)
	p.Fallback = strings.TrimSpace(p.Fallback)
	rules := make([]IntentRule, 0, len(p.Intents))
	for _, r := range p.Intents {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				kws = append(kws, k)
			}
		}
		rules = append(rules, IntentRule{Tag: strings.TrimSpace(r.Tag), Keywords: kws})
	}
	p.Intents = rules
	return p
}

func (c *Catalog) profile(d domain.Domain) (Profile, bool) {
	p, ok := c.domains[d]
	if !ok {
		return c.generic, false
	}
	return p, true
}

// Compose builds the full prompt for message in domain d. The layout is fixed:
// persona, a blank line, the guideline bullets, a blank line, then the user
// message and the assistant cue. Unknown domains use the generic template.
func (c *Catalog) Compose(d domain.Domain, message string) string {
	p, _ := c.profile(d)
	var b strings.Builder
	b.WriteString(p.Persona)
	if len(p.Rules) > 0 {
		b.WriteString("\n\nGuidelines:")
		for _, r := range p.Rules {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(r))
		}
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(message)
	b.WriteString("\nAssistant:")
	return b.String()
}

// JSONPrompt appends the strict-JSON instruction used by typed callers.
func (c *Catalog) JSONPrompt(prompt string) string {
	if c.jsonSuffix == "" {
		return prompt
	}
	return prompt + "\n\n" + c.jsonSuffix
}

// Classify returns the intent tag for message in domain d. It never fails:
// when no rule matches, the domain's default tag is returned.
func (c *Catalog) Classify(message string, d domain.Domain) string {
	p, ok := c.profile(d)
	if !ok {
		if d == "" {
			return c.generic.DefaultIntent
		}
		return "general_" + string(d)
	}
	msg := strings.ToLower(message)
	for _, r := range p.Intents {
		for _, k := range r.Keywords {
			if strings.Contains(msg, k) {
				return r.Tag
			}
		}
	}
	return p.DefaultIntent
}

// Fallback returns the canned reply for d.
func (c *Catalog) Fallback(d domain.Domain) string {
	p, _ := c.profile(d)
	return p.Fallback
}

// Intents lists d's rules in evaluation order. Unknown domains have none.
func (c *Catalog) Intents(d domain.Domain) []IntentRule {
	p, ok := c.profile(d)
	if !ok {
		return nil
	}
	out := make([]IntentRule, len(p.Intents))
	copy(out, p.Intents)
	return out
}

// DefaultIntent returns the tag used when no rule of d matches.
func (c *Catalog) DefaultIntent(d domain.Domain) string {
	return c.Classify("", d)
}
