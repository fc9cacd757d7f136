package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/model"
)

// Bundle directory layout:
//
//	<dir>/<version>/manifest.json
//	<dir>/<version>/scaler.json
//	<dir>/<version>/pca.json
//	<dir>/<version>/<model_id>.model.json
const (
	manifestFile = "manifest.json"
	scalerFile   = "scaler.json"
	pcaFile      = "pca.json"
	modelSuffix  = ".model.json"
)

// Manifest records what a persisted bundle contains. The model list is
// checked against the active configuration on load: a bundle trained
// for a different model set is rejected rather than partially applied.
type Manifest struct {
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	Models       []ManifestItem `json:"models"`
	FeatureNames []string       `json:"featureNames"`
}

// ManifestItem names one persisted model.
type ManifestItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SaveBundle writes a trained bundle under dir/version.
func SaveBundle(dir string, b *Bundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", domain.ErrInvalidInput)
	}
	if b.Version == "" {
		return fmt.Errorf("%w: bundle version is required", domain.ErrInvalidInput)
	}

	path := filepath.Join(dir, b.Version)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	manifest := Manifest{
		Version:      b.Version,
		CreatedAt:    b.CreatedAt,
		FeatureNames: feature.Names(),
	}
	for _, m := range b.Members {
		manifest.Models = append(manifest.Models, ManifestItem{ID: m.ID, Type: m.Classifier.Type()})

		params, err := m.Classifier.MarshalParams()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", m.ID, err)
		}
		if err := writeFileJSON(filepath.Join(path, m.ID+modelSuffix), params); err != nil {
			return fmt.Errorf("write %s: %w", m.ID, err)
		}
	}

	scalerData, err := json.Marshal(b.Scaler)
	if err != nil {
		return fmt.Errorf("marshal scaler: %w", err)
	}
	if err := writeFileJSON(filepath.Join(path, scalerFile), scalerData); err != nil {
		return fmt.Errorf("write scaler: %w", err)
	}

	if b.PCA != nil && b.PCA.Fitted() {
		pcaData, err := json.Marshal(b.PCA)
		if err != nil {
			return fmt.Errorf("marshal pca: %w", err)
		}
		if err := writeFileJSON(filepath.Join(path, pcaFile), pcaData); err != nil {
			return fmt.Errorf("write pca: %w", err)
		}
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileJSON(filepath.Join(path, manifestFile), manifestData); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadBundle reads a bundle from dir/version for the given model
// configuration. The persisted model set must match the configured set
// exactly; weights always come from configuration, never from disk.
func LoadBundle(dir, version string, cfg domain.EnsembleConfig) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ensemble config: %w", err)
	}

	path := filepath.Join(dir, version)
	manifestData, err := os.ReadFile(filepath.Join(path, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Version != version {
		return nil, fmt.Errorf("manifest version %q does not match directory %q", manifest.Version, version)
	}

	persisted := make(map[string]bool, len(manifest.Models))
	for _, item := range manifest.Models {
		persisted[item.ID] = true
	}
	if len(persisted) != len(cfg.Models) {
		return nil, fmt.Errorf("bundle %s has %d models, config expects %d", version, len(persisted), len(cfg.Models))
	}
	for _, mw := range cfg.Models {
		if !persisted[mw.ID] {
			return nil, fmt.Errorf("bundle %s is missing configured model %q", version, mw.ID)
		}
	}

	members := make([]Member, 0, len(cfg.Models))
	for _, mw := range cfg.Models {
		clf, err := model.New(mw.ID)
		if err != nil {
			return nil, err
		}
		params, err := os.ReadFile(filepath.Join(path, mw.ID+modelSuffix))
		if err != nil {
			return nil, fmt.Errorf("read %s params: %w", mw.ID, err)
		}
		if err := clf.UnmarshalParams(params); err != nil {
			return nil, err
		}
		members = append(members, Member{ID: mw.ID, Weight: mw.Weight, Classifier: clf})
	}

	scalerData, err := os.ReadFile(filepath.Join(path, scalerFile))
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	scaler := model.NewStandardScaler()
	if err := json.Unmarshal(scalerData, scaler); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	if !scaler.Fitted() {
		return nil, fmt.Errorf("bundle %s scaler is not fitted", version)
	}

	var pca *model.PCA
	pcaData, err := os.ReadFile(filepath.Join(path, pcaFile))
	switch {
	case err == nil:
		pca = &model.PCA{}
		if err := json.Unmarshal(pcaData, pca); err != nil {
			return nil, fmt.Errorf("parse pca: %w", err)
		}
	case os.IsNotExist(err):
		// Older bundles may predate the PCA artifact.
	default:
		return nil, fmt.Errorf("read pca: %w", err)
	}

	return &Bundle{
		Version:   version,
		CreatedAt: manifest.CreatedAt,
		Members:   members,
		Scaler:    scaler,
		PCA:       pca,
	}, nil
}

// ListVersions returns the bundle versions present under dir, oldest
// first by name.
func ListVersions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bundle dir: %w", err)
	}
	var versions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), manifestFile)); err == nil {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

func writeFileJSON(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
