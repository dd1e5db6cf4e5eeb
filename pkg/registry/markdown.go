package registry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/jingkaihe/switchboard/pkg/logger"
)

const skillFileName = "SKILL.md"

// MarkdownSource loads agents from *.md documents with YAML frontmatter.
// Directory entries may be doublestar patterns (e.g. "./agents/**").
type MarkdownSource struct {
	agentDirs []string
	skillDirs []string
}

// MarkdownOption configures a MarkdownSource
type MarkdownOption func(*MarkdownSource) error

// WithAgentDirs sets the directories scanned for agent documents
func WithAgentDirs(dirs ...string) MarkdownOption {
	return func(s *MarkdownSource) error {
		if len(dirs) == 0 {
			return errors.New("at least one agent directory must be specified")
		}
		s.agentDirs = dirs
		return nil
	}
}

// WithSkillDirs sets the directories scanned for <skill>/SKILL.md folders
func WithSkillDirs(dirs ...string) MarkdownOption {
	return func(s *MarkdownSource) error {
		s.skillDirs = dirs
		return nil
	}
}

// WithDefaultDirs uses ./.switchboard/{agents,skills} and the same folders under the home directory
func WithDefaultDirs() MarkdownOption {
	return func(s *MarkdownSource) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		s.agentDirs = []string{
			"./.switchboard/agents",
			filepath.Join(homeDir, ".switchboard", "agents"),
		}
		s.skillDirs = []string{
			"./.switchboard/skills",
			filepath.Join(homeDir, ".switchboard", "skills"),
		}
		return nil
	}
}

// NewMarkdownSource creates a markdown source. Without options the default directories are used.
func NewMarkdownSource(opts ...MarkdownOption) (*MarkdownSource, error) {
	s := &MarkdownSource{}
	if len(opts) == 0 {
		opts = []MarkdownOption{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "failed to apply markdown source option")
		}
	}
	return s, nil
}

// Name implements Source
func (s *MarkdownSource) Name() string {
	return "markdown:" + strings.Join(s.agentDirs, ",")
}

// Dirs returns every concrete directory the source reads, for watching.
func (s *MarkdownSource) Dirs() []string {
	return append(expandDirs(s.agentDirs), expandDirs(s.skillDirs)...)
}

// Load implements Source
func (s *MarkdownSource) Load(ctx context.Context) (*Catalog, error) {
	var (
		catalog  Catalog
		problems *multierror.Error
	)

	for _, dir := range expandDirs(s.skillDirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.G(ctx).WithField("dir", dir).Debug("Skill directory not readable, skipping")
			continue
		}
		for _, entry := range entries {
			entryPath := filepath.Join(dir, entry.Name())
			info, err := os.Stat(entryPath)
			if err != nil || !info.IsDir() {
				continue
			}
			skillPath := filepath.Join(entryPath, skillFileName)
			if _, err := os.Stat(skillPath); err != nil {
				continue
			}
			skill, err := loadSkillFile(skillPath)
			if err != nil {
				problems = multierror.Append(problems, errors.Wrapf(err, "skill %s", skillPath))
				continue
			}
			skill.Directory = entryPath
			catalog.Skills = append(catalog.Skills, skill)
		}
	}

	for _, dir := range expandDirs(s.agentDirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.G(ctx).WithField("dir", dir).Debug("Agent directory not readable, skipping")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			rec, err := loadAgentFile(path)
			if err != nil {
				problems = multierror.Append(problems, errors.Wrapf(err, "agent %s", path))
				continue
			}
			catalog.Agents = append(catalog.Agents, rec)
		}
	}

	if problems != nil {
		return nil, problems.ErrorOrNil()
	}
	return &catalog, nil
}

func loadAgentFile(path string) (AgentRecord, error) {
	var rec AgentRecord

	content, err := os.ReadFile(path)
	if err != nil {
		return rec, errors.Wrap(err, "failed to read agent file")
	}

	metaData, body, err := parseFrontmatter(content)
	if err != nil {
		return rec, err
	}
	if err := decodeRecord(metaData, &rec); err != nil {
		return rec, err
	}
	if rec.Name == "" {
		rec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rec.Body = body
	rec.Path = path
	return rec, nil
}

func loadSkillFile(path string) (SkillRecord, error) {
	var rec SkillRecord

	content, err := os.ReadFile(path)
	if err != nil {
		return rec, errors.Wrap(err, "failed to read skill file")
	}

	metaData, body, err := parseFrontmatter(content)
	if err != nil {
		return rec, err
	}

	name, _ := metaData["name"].(string)
	description, _ := metaData["description"].(string)
	if name == "" {
		return rec, errors.New("skill name is required in frontmatter")
	}
	if description == "" {
		return rec, errors.New("skill description is required in frontmatter")
	}

	return SkillRecord{Name: name, Description: description, Content: body}, nil
}

// parseFrontmatter returns the YAML frontmatter of a markdown document and its body.
func parseFrontmatter(content []byte) (map[string]any, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid frontmatter")
	}
	if len(metaData) == 0 {
		return nil, "", errors.New("missing frontmatter")
	}

	return metaData, extractBodyContent(string(content)), nil
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}
	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}

// expandDirs resolves doublestar patterns to existing directories, keeping
// plain paths as given and the original order.
func expandDirs(patterns []string) []string {
	var dirs []string
	seen := make(map[string]bool)
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[{") {
			add(p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.IsDir() {
				add(m)
			} else {
				add(filepath.Dir(m))
			}
		}
	}
	return dirs
}
