// Package workspace loads a Compose project from disk: the document, the
// sibling .env file and per-service env files.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/compose-spec/compose-go/v2/cli"
	"github.com/joho/godotenv"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrComposeFileNotFound = errors.New("compose file not found")
	ErrEnvFileNotFound     = errors.New("env file not found")
)

// =============================================================================
// Workspace
// =============================================================================

// Workspace is a loaded Compose project.
type Workspace struct {
	Dir         string
	File        string
	ProjectName string
	Document    *compose.Document

	// DotEnv holds the optional .env next to the compose file.
	DotEnv map[string]string
}

// Load reads the compose file in dir. An explicit file overrides discovery;
// otherwise the first of the conventional file names that exists is used.
// A relative file is resolved against dir.
func Load(dir, file string) (*Workspace, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	path, err := locate(absDir, file)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := compose.Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	dotEnv, err := ReadEnvFile(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil && !errors.Is(err, ErrEnvFileNotFound) {
		return nil, err
	}

	name := doc.Name
	if name == "" {
		name = deployment.DeriveProjectName(absDir)
	}

	return &Workspace{
		Dir:         absDir,
		File:        path,
		ProjectName: name,
		Document:    doc,
		DotEnv:      dotEnv,
	}, nil
}

func locate(dir, file string) (string, error) {
	if file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		if _, err := os.Stat(file); err != nil {
			return "", fmt.Errorf("%w: %s", ErrComposeFileNotFound, file)
		}
		return file, nil
	}

	for _, name := range cli.DefaultFileNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s)", ErrComposeFileNotFound, dir, strings.Join(cli.DefaultFileNames, ", "))
}

// ServiceEnvFiles reads a service's env files in declaration order, relative
// to the workspace directory. Missing or unreadable files are skipped and
// reported as warnings.
func (w *Workspace) ServiceEnvFiles(svc compose.Service) ([]map[string]string, []string) {
	var (
		tables   []map[string]string
		warnings []string
	)
	for _, file := range svc.EnvFile {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.Dir, path)
		}
		env, err := ReadEnvFile(path)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		tables = append(tables, env)
	}
	return tables, warnings
}

// =============================================================================
// Env Files
// =============================================================================

// ReadEnvFile parses a dotenv file. A missing file returns ErrEnvFileNotFound.
func ReadEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrEnvFileNotFound, path)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	return env, nil
}

// AmbientEnv returns the process environment as a table.
func AmbientEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// =============================================================================
// Host Filesystem
// =============================================================================

// OSFS is the host filesystem.
type OSFS struct{}

func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OSFS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

// NewProject builds the run context for this workspace.
func (w *Workspace) NewProject(volumeRoot string) *deployment.ProjectContext {
	project := deployment.NewProjectContext(w.ProjectName, w.Dir)
	project.VolumeRoot = volumeRoot
	if home, err := os.UserHomeDir(); err == nil {
		project.HomeDir = home
	}
	project.Ambient = AmbientEnv()
	for k, v := range w.DotEnv {
		project.Env[k] = v
	}
	return project
}
