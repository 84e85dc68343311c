// Package docstore manages the tier-partitioned document root.
//
// Every document lives under <data_dir>/<tier>/ and carries exactly
// the tier of the directory it was uploaded into. Tier reassignment is
// moving the file, which this package does not do.
package docstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/access"
)

var (
	// ErrExtensionNotAllowed is returned for uploads with a disallowed
	// or missing file extension.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")

	// ErrFileTooLarge is returned when an upload exceeds the size cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)

// Config holds document storage settings.
type Config struct {
	// DataDir is the tier-partitioned document root.
	DataDir string
	// UploadDir holds in-flight uploads before they move into a tier.
	UploadDir string
	// AllowedExtensions lists uploadable extensions without the dot.
	AllowedExtensions []string
	// MaxFileSize caps a single uploaded file in bytes.
	MaxFileSize int64
}

// Store lists and saves documents under the tier directories.
type Store struct {
	cfg     Config
	policy  *access.Policy
	allowed map[string]bool
	logger  *zap.Logger
}

// New creates a Store and ensures the directory layout exists: one
// directory per tier plus the upload staging directory.
func New(cfg Config, policy *access.Policy, logger *zap.Logger) (*Store, error) {
	if policy == nil {
		return nil, errors.New("policy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	s := &Store{cfg: cfg, policy: policy, allowed: allowed, logger: logger}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureLayout() error {
	for _, tier := range s.policy.Tiers() {
		dir := filepath.Join(s.cfg.DataDir, tier)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating tier directory %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory %s: %w", s.cfg.UploadDir, err)
	}
	return nil
}

// DataDir returns the document root.
func (s *Store) DataDir() string {
	return s.cfg.DataDir
}

// ListAccessible returns every document path visible to a user at the
// given tier, walking each tier directory the access policy admits.
// The listing is sorted for deterministic ingestion order.
func (s *Store) ListAccessible(userTier string) ([]string, error) {
	user, err := s.policy.Parse(userTier)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, tierName := range s.policy.Tiers() {
		tier, err := s.policy.Parse(tierName)
		if err != nil {
			return nil, err
		}
		if !s.policy.Visible(tier, user) {
			continue
		}

		dir := filepath.Join(s.cfg.DataDir, tierName)
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking tier directory %s: %w", dir, err)
		}
	}

	sort.Strings(paths)
	s.logger.Debug("listed accessible documents",
		zap.String("user_tier", userTier),
		zap.Int("count", len(paths)),
	)
	return paths, nil
}

// Allowed reports whether the filename carries an allowed extension.
func (s *Store) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && s.allowed[ext]
}

// SaveUpload writes an uploaded file into the given tier directory.
//
// The file is staged in the upload directory first and moved into
// place only once fully written, so a partially received upload never
// becomes visible to ingestion. Returns the final path.
func (s *Store) SaveUpload(filename string, r io.Reader, tier string) (string, error) {
	if _, err := s.policy.Parse(tier); err != nil {
		return "", err
	}
	if !s.Allowed(filename) {
		return "", fmt.Errorf("%w: %s", ErrExtensionNotAllowed, filename)
	}

	name := sanitizeFilename(filename)
	staged := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"_"+name)

	f, err := os.Create(staged)
	if err != nil {
		return "", fmt.Errorf("creating staged upload: %w", err)
	}

	// Copy one byte past the cap to detect oversize input.
	n, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxFileSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(staged)
		return "", fmt.Errorf("writing staged upload: %w", err)
	}
	if n > s.cfg.MaxFileSize {
		os.Remove(staged)
		return "", fmt.Errorf("%w: %s", ErrFileTooLarge, filename)
	}

	target := filepath.Join(s.cfg.DataDir, tier, name)
	if err := moveFile(staged, target); err != nil {
		os.Remove(staged)
		return "", fmt.Errorf("moving upload into tier %s: %w", tier, err)
	}

	s.logger.Info("document uploaded",
		zap.String("path", target),
		zap.String("tier", tier),
		zap.Int64("bytes", n),
	)
	return target, nil
}

// CleanUploads removes any files left in the upload staging directory.
func (s *Store) CleanUploads() error {
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("reading upload directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.cfg.UploadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove staged upload", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// sanitizeFilename strips path components and characters that could
// escape the tier directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "upload"
	}
	return out
}

// moveFile renames src to dst. Rename fails with EXDEV when the
// staging and data directories live on different filesystems; fall
// back to copying across the boundary.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copyAndRemove(src, dst)
}

// copyAndRemove copies src to dst, then removes src. A partial copy
// is cleaned up so a truncated file never lands in a tier directory.
func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
