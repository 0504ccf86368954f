package multimaya

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	artifactPrefix = "multimaya-"
	artifactSuffix = ".py"

	// CrashMarkerSuffix is appended to the shim path for the crash marker.
	CrashMarkerSuffix = ".crash"

	maxCreateAttempts = 8
)

// CrashMarkerPath returns the sibling file a failing shim writes its trace to.
func CrashMarkerPath(scriptPath string) string {
	return scriptPath + CrashMarkerSuffix
}

// Artifact is one shim file on disk.
type Artifact struct {
	Path string
}

// CrashPath returns the crash marker path for the artifact.
func (a *Artifact) CrashPath() string {
	return CrashMarkerPath(a.Path)
}

// ArtifactManager creates and retires shim files in a directory.
// It is safe for concurrent use; every artifact gets a distinct name.
type ArtifactManager struct {
	dir string
}

// NewArtifactManager returns a manager writing into dir, or os.TempDir() if dir is empty.
func NewArtifactManager(dir string) *ArtifactManager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ArtifactManager{dir: dir}
}

// Dir returns the directory artifacts are created in.
func (m *ArtifactManager) Dir() string {
	return m.dir
}

// Create writes text to a new, uniquely named file. An existing file is
// never overwritten: a name collision picks a new name.
func (m *ArtifactManager) Create(text string) (*Artifact, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := filepath.Join(m.dir, artifactPrefix+uuid.NewString()+artifactSuffix)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("creating artifact: %w", err)
		}
		if _, err := f.WriteString(text); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("writing artifact: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("closing artifact: %w", err)
		}
		return &Artifact{Path: path}, nil
	}
	return nil, fmt.Errorf("creating artifact: no unique name after %d attempts", maxCreateAttempts)
}

// Retire deletes the artifact unless keep is set. A file that is already
// gone (the shim removes itself on a clean exit) is not an error.
func (m *ArtifactManager) Retire(a *Artifact, keep bool) error {
	if keep || a == nil {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}
