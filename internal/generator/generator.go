// Package generator materializes a buildable source tree for one bot
// instance from the shared template store.
package generator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/feature"
)

const envFileName = ".env"

// Generator copies the template store into per-bot directories and injects
// instance configuration. Secrets holds platform-level API key values keyed
// by env name; user input never reaches it.
type Generator struct {
	templatesDir string
	root         string
	secrets      map[string]string
}

// New validates the template store and workspace root.
func New(templatesDir, root string, secrets map[string]string) (*Generator, error) {
	if templatesDir == "" {
		return nil, fmt.Errorf("templates directory cannot be empty")
	}
	info, err := os.Stat(templatesDir)
	if err != nil {
		return nil, fmt.Errorf("locate template store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template store %s is not a directory", templatesDir)
	}
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Generator{templatesDir: templatesDir, root: root, secrets: secrets}, nil
}

// Generate produces a self-contained source tree for the bot under a fresh
// directory keyed by descriptor id, and returns its path. Re-running for the
// same id resets the directory first, so a failed or repeated attempt always
// starts from a clean state.
func (g *Generator) Generate(bot domain.Bot) (string, error) {
	dir := filepath.Join(g.root, bot.ID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset bot directory: %w", err)
	}
	if err := copyTree(g.templatesDir, dir); err != nil {
		return "", fmt.Errorf("copy template store: %w", err)
	}
	if err := g.rewriteManifest(dir, bot); err != nil {
		return "", err
	}
	if err := g.writeEnvFile(dir, bot); err != nil {
		return "", err
	}
	return dir, nil
}

// Remove deletes the generated directory for a descriptor id.
func (g *Generator) Remove(botID string) domain.Removal {
	removal := domain.Removal{Resource: "workspace"}
	if strings.TrimSpace(botID) == "" {
		removal.Outcome = domain.OutcomeFailed
		removal.Err = fmt.Errorf("bot id required")
		return removal
	}
	dir := filepath.Join(g.root, botID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		removal.Outcome = domain.OutcomeNotFound
		return removal
	}
	if err := os.RemoveAll(dir); err != nil {
		removal.Outcome = domain.OutcomeFailed
		removal.Err = err
		return removal
	}
	removal.Outcome = domain.OutcomeRemoved
	return removal
}

// rewriteManifest embeds the bot name in the template's package manifest.
func (g *Generator) rewriteManifest(dir string, bot domain.Bot) error {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	manifest["name"] = fmt.Sprintf("telegram-bot-%s", strings.ToLower(bot.Name))
	manifest["description"] = fmt.Sprintf("Telegram bot %s created with Cloud Bot Platform", bot.Name)

	rewritten, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(rewritten, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// writeEnvFile emits the instance configuration read by the bot at startup:
// identity, credential, enabled feature list and the platform API keys the
// selected features need.
func (g *Generator) writeEnvFile(dir string, bot domain.Bot) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BOT_NAME=%s\n", bot.Name)
	fmt.Fprintf(&sb, "BOT_TOKEN=%s\n", bot.Token)
	fmt.Fprintf(&sb, "SERVICES=%s\n", strings.Join(bot.Features, ","))

	keys := feature.RequiredSecrets(bot.Features)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", key, g.secrets[key])
	}

	path := filepath.Join(dir, envFileName)
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
