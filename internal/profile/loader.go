package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"transcribeflow/internal/services"
)

const fileSuffix = ".prompt.txt"

// Provider loads profiles by id from a profiles directory.
type Provider struct {
	baseDir        string
	defaultProfile string
}

// NewProvider constructs a filesystem-backed profile provider.
func NewProvider(baseDir, defaultProfile string) *Provider {
	return &Provider{baseDir: baseDir, defaultProfile: defaultProfile}
}

// Get loads a profile by id following the <id>.prompt.txt convention.
// A file that fails to parse is as unusable as a missing one, so both
// surface as not-found to the caller.
func (p *Provider) Get(id string) (*Profile, error) {
	path := filepath.Join(p.baseDir, id+fileSuffix)
	prof, err := ParseFile(path)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, services.Wrap(services.ErrNotFound, "profile", "load", fmt.Sprintf("profile %s unusable", id), err)
		}
		return nil, err
	}
	return prof, nil
}

// ResolveForFolder infers the profile from the inbox subfolder a file was
// dropped in. Files at the inbox root, or folders without a matching
// profile definition, use the default profile.
func (p *Provider) ResolveForFolder(folder string) (*Profile, error) {
	candidate := strings.ToLower(strings.TrimSpace(folder))
	if candidate == "" {
		candidate = p.defaultProfile
	}
	prof, err := p.Get(candidate)
	if err == nil {
		return prof, nil
	}
	if candidate == p.defaultProfile {
		return nil, err
	}
	return p.Get(p.defaultProfile)
}

// List returns every profile defined in the profiles directory.
func (p *Provider) List() ([]*Profile, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	var profiles []*Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		prof, err := ParseFile(filepath.Join(p.baseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, prof)
	}
	return profiles, nil
}

// ParseFile parses a single .prompt.txt profile definition.
func ParseFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "profile", "load", fmt.Sprintf("profile file %s not found", path), err)
		}
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	yamlBlock, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "profile", "parse", fmt.Sprintf("profile %s: %v", path, err), err)
	}

	meta := make(map[string]any)
	if err := yaml.Unmarshal([]byte(yamlBlock), &meta); err != nil {
		return nil, services.Wrap(services.ErrValidation, "profile", "parse", fmt.Sprintf("profile %s: invalid front matter", path), err)
	}

	id := ""
	if v, ok := meta["id"].(string); ok {
		id = strings.TrimSpace(v)
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), fileSuffix)
	}
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "profile", "parse", fmt.Sprintf("profile %s has no identifier", path), nil)
	}

	return &Profile{
		ID:         id,
		Meta:       meta,
		PromptBody: body,
		SourcePath: path,
	}, nil
}

// splitFrontMatter separates the YAML front matter from the prompt body.
// Expected layout:
//
//	---
//	<yaml>
//	---
//	<prompt body>
func splitFrontMatter(raw string) (string, string, error) {
	cleaned := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(cleaned, "---") {
		return "", "", fmt.Errorf("missing YAML front matter")
	}
	parts := strings.SplitN(cleaned, "---", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("unterminated YAML front matter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}
