// Package route implements rule-based upstream selection (C2): given a
// model name and the loaded configuration, it resolves which upstream a
// request should be forwarded to.
package route

import (
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/ccglmproxy/pkg/config"
	"github.com/lkarlslund/ccglmproxy/pkg/glob"
)

// Descriptor is the per-request routing decision. It is stack-scoped to a
// single request and never retained beyond it.
type Descriptor struct {
	Name   string
	URL    string
	APIKey string
	Model  string
}

// Selector holds the compiled form of the configured routing rules so
// patterns are only parsed once, at construction, not per request.
type Selector struct {
	cfg    *config.Config
	logger *log.Logger
	rules  []compiledRule
}

type compiledRule struct {
	matcher  *glob.Matcher
	upstream string
	model    string
}

// New compiles cfg.Routing.Rules in order. Rules naming an unrecognized
// upstream are dropped with a warning; they can never fire.
func New(cfg *config.Config, logger *log.Logger) *Selector {
	s := &Selector{cfg: cfg, logger: logger}
	for _, r := range cfg.Routing.Rules {
		if !config.IsValidUpstreamName(r.Upstream) {
			if logger != nil {
				logger.Warn("dropping routing rule with invalid upstream", "match", r.Match, "upstream", r.Upstream)
			}
			continue
		}
		m, err := glob.Compile(r.Match)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping routing rule with invalid pattern", "match", r.Match, "error", err)
			}
			continue
		}
		s.rules = append(s.rules, compiledRule{matcher: m, upstream: r.Upstream, model: r.Model})
	}
	return s
}

// Resolve evaluates the compiled rules in declared order against model and
// returns the winning Descriptor. An absent model is matched as "".
func (s *Selector) Resolve(model string) Descriptor {
	for _, r := range s.rules {
		if r.matcher.Match(model) {
			return s.describe(r.upstream, r.model)
		}
	}
	def := strings.ToLower(strings.TrimSpace(s.cfg.Routing.Default))
	if !config.IsValidUpstreamName(def) {
		if s.logger != nil {
			s.logger.Warn("invalid routing default, falling back to anthropic", "default", s.cfg.Routing.Default)
		}
		def = config.UpstreamAnthropic
	}
	return s.describe(def, "")
}

func (s *Selector) describe(upstream, modelRewrite string) Descriptor {
	d := Descriptor{Name: upstream, Model: modelRewrite}
	switch upstream {
	case config.UpstreamZAI:
		d.URL = s.cfg.Upstream.ZAI.URL
		d.APIKey = s.cfg.Upstream.ZAI.APIKey
	default:
		d.URL = s.cfg.Upstream.Anthropic.URL
	}
	return d
}
