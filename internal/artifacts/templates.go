package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"transcribeflow/internal/services"
)

const templateSuffix = ".template.txt"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Template is a TXT delivery layout with optional YAML front matter.
type Template struct {
	ID          string
	Name        string
	Description string
	Locale      string
	Body        string
	SourcePath  string
}

// TemplateRegistry loads *.template.txt files from a directory. Localized
// variants follow the <id>.<locale>.template.txt naming convention and win
// over the base file when the requested locale matches.
type TemplateRegistry struct {
	baseDir string

	mu        sync.Mutex
	base      map[string]*Template
	localized map[string]*Template
	loaded    bool
}

func NewTemplateRegistry(baseDir string) *TemplateRegistry {
	return &TemplateRegistry{
		baseDir:   baseDir,
		base:      make(map[string]*Template),
		localized: make(map[string]*Template),
	}
}

// List returns all known templates sorted by id then locale.
func (r *TemplateRegistry) List() ([]*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	templates := make([]*Template, 0, len(r.base)+len(r.localized))
	for _, tpl := range r.base {
		templates = append(templates, tpl)
	}
	for _, tpl := range r.localized {
		templates = append(templates, tpl)
	}
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].ID != templates[j].ID {
			return templates[i].ID < templates[j].ID
		}
		return templates[i].Locale < templates[j].Locale
	})
	return templates, nil
}

// Render resolves the template by id and locale and substitutes {{key}}
// placeholders from the context. Unknown placeholders render empty. The
// result always ends with a single trailing newline.
func (r *TemplateRegistry) Render(templateID string, context map[string]string, locale string) (string, error) {
	tpl, err := r.resolve(templateID, locale)
	if err != nil {
		return "", err
	}
	rendered := placeholderPattern.ReplaceAllStringFunc(tpl.Body, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return context[key]
	})
	return strings.TrimSpace(rendered) + "\n", nil
}

func (r *TemplateRegistry) resolve(templateID, locale string) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(templateID)
	if id == "" {
		id = r.defaultIDLocked()
	}
	if loc := normalizeLocale(locale); loc != "" {
		if tpl, ok := r.localized[id+"@"+loc]; ok {
			return tpl, nil
		}
		if prefix, _, found := strings.Cut(loc, "-"); found {
			if tpl, ok := r.localized[id+"@"+prefix]; ok {
				return tpl, nil
			}
		}
	}
	if tpl, ok := r.base[id]; ok {
		return tpl, nil
	}
	if tpl, ok := r.base[r.defaultIDLocked()]; ok {
		return tpl, nil
	}
	return nil, services.Wrap(services.ErrNotFound, "artifacts", "resolve_template", fmt.Sprintf("no template for id %q", id), nil)
}

func (r *TemplateRegistry) defaultIDLocked() string {
	if _, ok := r.base["default"]; ok {
		return "default"
	}
	ids := make([]string, 0, len(r.base))
	for id := range r.base {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		return ids[0]
	}
	return "default"
}

func (r *TemplateRegistry) loadLocked() error {
	if r.loaded {
		return nil
	}
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.loaded = true
			return nil
		}
		return fmt.Errorf("read template dir %s: %w", r.baseDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), templateSuffix) {
			continue
		}
		tpl, err := parseTemplateFile(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			return err
		}
		if tpl.Locale != "" {
			r.localized[tpl.ID+"@"+tpl.Locale] = tpl
			if _, ok := r.base[tpl.ID]; !ok {
				r.base[tpl.ID] = tpl
			}
			continue
		}
		r.base[tpl.ID] = tpl
	}
	r.loaded = true
	return nil
}

func parseTemplateFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	meta, body := splitTemplateFrontMatter(string(raw))

	stem := strings.TrimSuffix(filepath.Base(path), templateSuffix)
	fileID, fileLocale := stem, ""
	if id, locale, found := strings.Cut(stem, "."); found {
		fileID, fileLocale = id, locale
	}

	tpl := &Template{
		ID:         fileID,
		Locale:     normalizeLocale(fileLocale),
		Body:       strings.TrimSpace(body),
		SourcePath: path,
	}
	if meta != nil {
		if v, ok := meta["id"].(string); ok && strings.TrimSpace(v) != "" {
			tpl.ID = strings.TrimSpace(v)
		}
		if v, ok := meta["name"].(string); ok {
			tpl.Name = v
		}
		if v, ok := meta["description"].(string); ok {
			tpl.Description = v
		}
		if v, ok := meta["locale"].(string); ok && normalizeLocale(v) != "" {
			tpl.Locale = normalizeLocale(v)
		}
	}
	if tpl.Name == "" {
		tpl.Name = tpl.ID
	}
	return tpl, nil
}

func splitTemplateFrontMatter(raw string) (map[string]any, string) {
	cleaned := strings.TrimLeft(raw, "\n\r\t ")
	if !strings.HasPrefix(cleaned, "---") {
		return nil, raw
	}
	parts := strings.SplitN(cleaned, "---", 3)
	if len(parts) < 3 {
		return nil, raw
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return nil, raw
	}
	return meta, parts[2]
}

func normalizeLocale(value string) string {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), "_", "-"))
	return normalized
}
