package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"transcribeflow/internal/services"
)

const medicalProfile = `---
id: medico
language: pt-BR
instructions:
  - clean_verbatim
  - keep_medical_terms
subtitle:
  max_chars_per_line: 38
  max_lines: 1
post_edit:
  anonymize_pii: true
disclaimers:
  - "Automated transcript, review before clinical use."
---
You are a careful medical transcription editor.
`

const defaultProfile = `---
language: auto
---
You are a clean-verbatim transcription editor.
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "medico.prompt.txt"), []byte(medicalProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.prompt.txt"), []byte(defaultProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestParseFileFrontMatter(t *testing.T) {
	dir := writeProfiles(t)
	prof, err := ParseFile(filepath.Join(dir, "medico.prompt.txt"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if prof.ID != "medico" {
		t.Fatalf("id = %q, want medico", prof.ID)
	}
	if prof.Language() != "pt-BR" {
		t.Fatalf("language = %q, want pt-BR", prof.Language())
	}
	if prof.PromptBody != "You are a careful medical transcription editor." {
		t.Fatalf("unexpected body: %q", prof.PromptBody)
	}
	if len(prof.Disclaimers()) != 1 {
		t.Fatalf("disclaimers = %v", prof.Disclaimers())
	}
}

func TestIDFallsBackToFilename(t *testing.T) {
	dir := writeProfiles(t)
	prof, err := ParseFile(filepath.Join(dir, "default.prompt.txt"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if prof.ID != "default" {
		t.Fatalf("id = %q, want default", prof.ID)
	}
}

func TestSubtitleRulesDefaultsAndOverrides(t *testing.T) {
	dir := writeProfiles(t)
	provider := NewProvider(dir, "default")

	medico, err := provider.Get("medico")
	if err != nil {
		t.Fatal(err)
	}
	rules := medico.SubtitleRules()
	if rules.MaxCharsPerLine != 38 || rules.MaxLines != 1 {
		t.Fatalf("override rules = %+v", rules)
	}
	if rules.ReadingSpeedCPS != 17 {
		t.Fatalf("unset key should default: %+v", rules)
	}

	plain, err := provider.Get("default")
	if err != nil {
		t.Fatal(err)
	}
	rules = plain.SubtitleRules()
	if rules.MaxCharsPerLine != 42 || rules.MaxLines != 2 || rules.ReadingSpeedCPS != 17 {
		t.Fatalf("default rules = %+v", rules)
	}
}

func TestRequiresTranslation(t *testing.T) {
	dir := writeProfiles(t)
	provider := NewProvider(dir, "default")

	medico, err := provider.Get("medico")
	if err != nil {
		t.Fatal(err)
	}
	// Pinned to pt-BR, so translation is implied.
	if !medico.RequiresTranslation() {
		t.Fatal("expected pinned language to require translation")
	}

	plain, err := provider.Get("default")
	if err != nil {
		t.Fatal(err)
	}
	if plain.RequiresTranslation() {
		t.Fatal("auto language must not require translation")
	}
}

func TestShouldAnonymizePII(t *testing.T) {
	dir := writeProfiles(t)
	provider := NewProvider(dir, "default")

	medico, _ := provider.Get("medico")
	if !medico.ShouldAnonymizePII() {
		t.Fatal("expected anonymize_pii true")
	}
	plain, _ := provider.Get("default")
	if plain.ShouldAnonymizePII() {
		t.Fatal("expected anonymize_pii false by default")
	}
}

func TestResolveForFolder(t *testing.T) {
	dir := writeProfiles(t)
	provider := NewProvider(dir, "default")

	prof, err := provider.ResolveForFolder("Medico")
	if err != nil {
		t.Fatalf("ResolveForFolder: %v", err)
	}
	if prof.ID != "medico" {
		t.Fatalf("id = %q, want medico", prof.ID)
	}

	// Unknown folder falls back to the default profile.
	prof, err = provider.ResolveForFolder("juridico")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if prof.ID != "default" {
		t.Fatalf("fallback id = %q, want default", prof.ID)
	}

	// Empty folder means the inbox root.
	prof, err = provider.ResolveForFolder("")
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if prof.ID != "default" {
		t.Fatalf("root id = %q, want default", prof.ID)
	}
}

func TestMissingDefaultProfile(t *testing.T) {
	provider := NewProvider(t.TempDir(), "default")
	_, err := provider.ResolveForFolder("anything")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMalformedFrontMatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.prompt.txt")
	if err := os.WriteFile(path, []byte("no front matter here"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ParseFile(path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	// Through the provider a broken profile behaves like a missing one.
	_, err = NewProvider(dir, "default").Get("broken")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
