package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/telemetry"
	"github.com/jingkaihe/switchboard/pkg/textnorm"
)

// Load reads every source in order and builds a validated registry.
// Any problem, in any source, yields a *RegistryError and no registry.
func Load(ctx context.Context, sources ...Source) (*Registry, error) {
	var reg *Registry
	err := telemetry.WithSpan(ctx, "registry.load", func(ctx context.Context) error {
		var (
			combined Catalog
			problems *multierror.Error
		)
		for _, src := range sources {
			catalog, err := src.Load(ctx)
			if err != nil {
				problems = multierror.Append(problems, errors.Wrapf(err, "source %s", src.Name()))
				continue
			}
			logger.G(ctx).WithFields(map[string]any{
				"source": src.Name(),
				"agents": len(catalog.Agents),
				"skills": len(catalog.Skills),
			}).Debug("Loaded registry source")
			combined.Agents = append(combined.Agents, catalog.Agents...)
			combined.Skills = append(combined.Skills, catalog.Skills...)
		}
		if problems != nil {
			return newRegistryError(problems)
		}

		built, err := Build(ctx, combined)
		if err != nil {
			return err
		}
		reg = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Build validates a catalog and converts it into a Registry.
func Build(ctx context.Context, catalog Catalog) (*Registry, error) {
	var problems *multierror.Error
	fail := func(format string, args ...any) {
		problems = multierror.Append(problems, errors.Errorf(format, args...))
	}

	reg := &Registry{
		loadedAt: time.Now(),
		byName:   make(map[string]*Agent, len(catalog.Agents)),
		bySkill:  make(map[string]*Skill, len(catalog.Skills)),
	}

	for _, rec := range catalog.Skills {
		if rec.Name == "" {
			fail("skill in %s: name is required", rec.Directory)
			continue
		}
		if _, exists := reg.bySkill[rec.Name]; exists {
			logger.G(ctx).WithField("skill", rec.Name).Warn("Duplicate skill definition, keeping the first")
			continue
		}
		skill := &Skill{
			Name:        rec.Name,
			Description: rec.Description,
			Content:     rec.Content,
			Directory:   rec.Directory,
		}
		reg.skills = append(reg.skills, skill)
		reg.bySkill[skill.Name] = skill
	}

	for _, rec := range catalog.Agents {
		agent, errs := buildAgent(rec)
		for _, err := range errs {
			problems = multierror.Append(problems, err)
		}
		if agent == nil {
			continue
		}
		if _, exists := reg.byName[agent.Name]; exists {
			fail("agent '%s': duplicate identifier (%s)", agent.Name, agent.Path)
			continue
		}
		reg.agents = append(reg.agents, agent)
		reg.byName[agent.Name] = agent
	}

	for _, agent := range reg.agents {
		for _, rel := range agent.Related {
			if rel == agent.Name {
				fail("agent '%s': cannot list itself as related", agent.Name)
				continue
			}
			if _, ok := reg.byName[rel]; !ok {
				fail("agent '%s': related agent '%s' does not exist", agent.Name, rel)
			}
		}
		warnUnresolvedSkills(ctx, reg, agent)
	}

	if problems != nil {
		return nil, newRegistryError(problems)
	}

	digest, err := catalogDigest(catalog)
	if err != nil {
		return nil, err
	}
	reg.digest = digest

	return reg, nil
}

func buildAgent(rec AgentRecord) (*Agent, []error) {
	var errs []error
	name := strings.TrimSpace(rec.Name)
	fail := func(format string, args ...any) {
		errs = append(errs, errors.Errorf("agent '%s': "+format, append([]any{name}, args...)...))
	}

	if name == "" {
		return nil, []error{errors.Errorf("agent in %s: name is required", rec.Path)}
	}

	agent := &Agent{
		Name:        name,
		Description: strings.TrimSpace(rec.Description),
		Related:     dedupe(rec.Related),
		Body:        rec.Body,
		Path:        rec.Path,
	}

	category, err := ParseCategory(strings.ToLower(strings.TrimSpace(rec.Category)))
	if err != nil {
		fail("%v", err)
	}
	agent.Category = category

	if len(rec.Triggers) == 0 {
		fail("at least one trigger is required")
	}
	for i, pattern := range rec.Triggers {
		trigger, err := compileTrigger(pattern)
		if err != nil {
			fail("trigger %d: %v", i, err)
			continue
		}
		agent.Triggers = append(agent.Triggers, trigger)
	}

	for _, fa := range rec.FocusAreas {
		keywords := textnorm.Keywords(fa.Name + " " + strings.Join(fa.Keywords, " "))
		if len(keywords) == 0 {
			fail("focus area %q has no keywords", fa.Name)
			continue
		}
		agent.FocusAreas = append(agent.FocusAreas, FocusArea{Name: fa.Name, Keywords: keywords})
	}

	agent.Capabilities = Capabilities{Will: dedupe(rec.Will), WillNot: dedupe(rec.WillNot)}
	for _, tag := range agent.Capabilities.Will {
		if agent.Capabilities.Forbids(tag) {
			fail("action '%s' is in both will and will_not", tag)
		}
	}

	for _, ref := range rec.Skills {
		tier := Tier(strings.ToLower(ref.Tier))
		if tier == "" {
			tier = TierPrimary
		}
		if tier != TierPrimary && tier != TierSecondary {
			fail("skill '%s' has unknown tier '%s'", ref.Name, ref.Tier)
			continue
		}
		agent.Skills = append(agent.Skills, SkillRef{Name: ref.Name, Tier: tier})
	}

	if len(rec.Workflows) == 0 {
		fail("at least one workflow is required")
	}
	seenWorkflows := make(map[string]bool)
	for i, wf := range rec.Workflows {
		wfName := strings.TrimSpace(wf.Name)
		if wfName == "" {
			fail("workflow %d: name is required", i)
			continue
		}
		if seenWorkflows[wfName] {
			fail("workflow '%s' is declared twice", wfName)
			continue
		}
		seenWorkflows[wfName] = true
		if len(wf.Steps) == 0 {
			fail("workflow '%s' has no steps", wfName)
			continue
		}
		workflow := Workflow{Name: wfName, When: strings.TrimSpace(wf.When)}
		for j, st := range wf.Steps {
			if strings.TrimSpace(st.Instruction) == "" {
				fail("workflow '%s' step %d: instruction is required", wfName, j+1)
			}
			action := strings.TrimSpace(st.Action)
			if action == "" {
				fail("workflow '%s' step %d: action tag is required", wfName, j+1)
			}
			workflow.Steps = append(workflow.Steps, Step{
				Instruction: strings.TrimSpace(st.Instruction),
				Action:      action,
				Skills:      dedupe(st.Skills),
				Expect:      strings.TrimSpace(st.Expect),
			})
		}
		agent.Workflows = append(agent.Workflows, workflow)
	}

	return agent, errs
}

func compileTrigger(pattern string) (Trigger, error) {
	normalized := textnorm.NormalizePattern(pattern)
	if normalized == "" {
		return Trigger{}, errors.New("trigger pattern is empty")
	}

	trigger := Trigger{
		Pattern:    pattern,
		Normalized: normalized,
		Wildcard:   strings.ContainsAny(normalized, "*?"),
	}
	for _, tok := range strings.Fields(normalized) {
		if !strings.ContainsAny(tok, "*?") {
			trigger.Specificity++
		}
	}
	if !trigger.Wildcard {
		return trigger, nil
	}
	if trigger.Specificity == 0 {
		return Trigger{}, errors.Errorf("wildcard pattern %q has no literal tokens", pattern)
	}

	g, err := glob.Compile(globPattern(normalized), ' ')
	if err != nil {
		return Trigger{}, errors.Wrapf(err, "invalid wildcard pattern %q", pattern)
	}
	trigger.glob = g
	return trigger, nil
}

// globPattern anchors a normalized wildcard trigger on token boundaries of
// the space-padded task. A bare "*" token spans any run of whole tokens;
// wildcards inside a token stay within that token.
func globPattern(normalized string) string {
	toks := strings.Fields(normalized)
	for i, tok := range toks {
		if tok == "*" {
			toks[i] = "**"
		}
	}
	return "** " + strings.Join(toks, " ") + " **"
}

func warnUnresolvedSkills(ctx context.Context, reg *Registry, agent *Agent) {
	for _, wf := range agent.Workflows {
		for i, st := range wf.Steps {
			for _, name := range st.Skills {
				if _, ok := reg.bySkill[name]; !ok {
					logger.G(ctx).WithFields(map[string]any{
						"agent":    agent.Name,
						"workflow": wf.Name,
						"step":     i + 1,
						"skill":    name,
					}).Warn("Step references an unknown skill; plans reaching it will be rejected")
				}
			}
		}
	}
}

func dedupe(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func catalogDigest(catalog Catalog) (string, error) {
	raw, err := json.Marshal(catalog)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash catalog")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
