// Package export provides encrypted local backups of the on-device
// data: tasks, gaps, and preferences are archived to a single
// password-protected file that can be restored later.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/crypto"
	"github.com/kerrin-hs/gapday/core/internal/db"
	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
)

const manifestVersion = "1.0"

// Service creates and restores encrypted backups.
type Service struct {
	store *db.Store
	log   *logging.Logger
}

// NewService creates a backup Service.
func NewService(store *db.Store) *Service {
	return &Service{store: store, log: logging.Get().With("export")}
}

// Config holds backup parameters.
type Config struct {
	OutputPath string
	Password   string
}

// Manifest describes an archive's contents.
type Manifest struct {
	Version    string    `json:"version"`
	UserID     string    `json:"user_id"`
	ExportedAt time.Time `json:"exported_at"`
	TaskCount  int       `json:"task_count"`
	GapCount   int       `json:"gap_count"`
	Checksum   string    `json:"checksum"`
}

// Result reports a finished backup.
type Result struct {
	FilePath  string
	SizeBytes int64
	TaskCount int
	GapCount  int
	Checksum  string
	Duration  time.Duration
}

// RestoreResult reports a finished restore.
type RestoreResult struct {
	Tasks    int
	Gaps     int
	HadPrefs bool
	Duration time.Duration
}

type payload struct {
	Manifest    Manifest                `json:"manifest"`
	Tasks       []*models.Task          `json:"tasks"`
	Gaps        []*models.TimeGap       `json:"gaps"`
	Preferences *models.UserPreferences `json:"preferences"`
}

// Backup writes an encrypted tar.gz archive of all local data,
// tombstones included, to config.OutputPath.
func (s *Service) Backup(config *Config) (*Result, error) {
	start := time.Now()
	if config.Password == "" {
		return nil, apperrors.New(apperrors.ErrBackupFailed, "backup password required")
	}

	tasks, err := s.store.ListAllTasks()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to read tasks", err)
	}
	gaps, err := s.store.ListAllGaps()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to read gaps", err)
	}
	prefs, err := s.store.GetPreferences()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to read preferences", err)
	}

	manifest := Manifest{
		Version:    manifestVersion,
		UserID:     s.store.UserID(),
		ExportedAt: start.UTC(),
		TaskCount:  len(tasks),
		GapCount:   len(gaps),
	}

	archive, err := buildArchive(manifest, tasks, gaps, prefs)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(archive, []byte(config.Password))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to encrypt archive", err)
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to create backup directory", err)
	}
	if err := os.WriteFile(config.OutputPath, sealed, 0o600); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to write backup file", err)
	}

	sum := sha256.Sum256(sealed)
	res := &Result{
		FilePath:  config.OutputPath,
		SizeBytes: int64(len(sealed)),
		TaskCount: len(tasks),
		GapCount:  len(gaps),
		Checksum:  hex.EncodeToString(sum[:]),
		Duration:  time.Since(start),
	}
	s.log.Info("backup written", map[string]interface{}{
		"path":  res.FilePath,
		"tasks": res.TaskCount,
		"gaps":  res.GapCount,
		"bytes": res.SizeBytes,
	})
	return res, nil
}

// Restore reads an encrypted archive and writes its records into the
// local store. Restored records are written as acknowledged state: no
// queue entries are appended, so a restore never triggers a push
// storm. Reconciliation on the next login converges any drift.
func (s *Service) Restore(archivePath, password string) (*RestoreResult, error) {
	start := time.Now()

	sealed, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to read backup file", err)
	}
	archive, err := crypto.Decrypt(sealed, []byte(password))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "wrong password or corrupt backup", err)
	}

	p, err := readArchive(archive)
	if err != nil {
		return nil, err
	}
	if p.Manifest.Version != manifestVersion {
		return nil, apperrors.New(apperrors.ErrBackupFailed,
			fmt.Sprintf("unsupported backup version %q", p.Manifest.Version))
	}

	res := &RestoreResult{}
	for _, t := range p.Tasks {
		if err := s.store.PutRemoteTask(t); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to restore task", err)
		}
		res.Tasks++
	}
	for _, g := range p.Gaps {
		if err := s.store.PutRemoteGap(g); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to restore gap", err)
		}
		res.Gaps++
	}
	if p.Preferences != nil {
		if err := s.store.PutRemotePreferences(p.Preferences); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to restore preferences", err)
		}
		res.HadPrefs = true
	}

	res.Duration = time.Since(start)
	s.log.Info("backup restored", map[string]interface{}{
		"path":  archivePath,
		"tasks": res.Tasks,
		"gaps":  res.Gaps,
	})
	return res, nil
}

func buildArchive(manifest Manifest, tasks []*models.Task, gaps []*models.TimeGap, prefs *models.UserPreferences) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entries := []struct {
		name string
		data interface{}
	}{
		{"manifest.json", manifest},
		{"tasks.json", tasks},
		{"gaps.json", gaps},
		{"preferences.json", prefs},
	}
	for _, e := range entries {
		raw, err := json.MarshalIndent(e.data, "", "  ")
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to encode "+e.name, err)
		}
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0o600,
			Size:    int64(len(raw)),
			ModTime: manifest.ExportedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to write archive entry", err)
		}
		if _, err := tw.Write(raw); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to write archive entry", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to finalize archive", err)
	}
	if err := gz.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to finalize archive", err)
	}
	return buf.Bytes(), nil
}

func readArchive(archive []byte) (*payload, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "corrupt backup archive", err)
	}
	defer gz.Close()

	p := &payload{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "corrupt backup archive", err)
		}
		raw, err := io.ReadAll(tr)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "corrupt backup archive", err)
		}

		switch hdr.Name {
		case "manifest.json":
			err = json.Unmarshal(raw, &p.Manifest)
		case "tasks.json":
			err = json.Unmarshal(raw, &p.Tasks)
		case "gaps.json":
			err = json.Unmarshal(raw, &p.Gaps)
		case "preferences.json":
			err = json.Unmarshal(raw, &p.Preferences)
		default:
			continue
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrBackupFailed, "failed to decode "+hdr.Name, err)
		}
	}
	return p, nil
}
