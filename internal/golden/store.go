// Package golden maintains the per-product per-ROI libraries of
// reference images and implements the threshold-bounded matcher that
// promotes better references on successful comparisons.
//
// Directory contract (clients navigate this layout directly):
//
//	<products_root>/<product>/golden_rois/roi_<idx>/
//	    best_golden.jpg               exactly one after any update
//	    <ts>_golden_sample.jpg        zero or more alternates
//	    original_<ts>_old_best.jpg    zero or more backups
package golden

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// BestName is the designated "best" reference inside a ROI directory.
const BestName = "best_golden.jpg"

var (
	// ErrNoGolden means the ROI has no reference library at all.
	ErrNoGolden = errors.New("no golden samples for roi")
	// ErrLastSample guards against emptying a library.
	ErrLastSample = errors.New("cannot delete the last golden sample")
	// ErrPromotionFailed wraps rename failures during promotion. The
	// library is left with its pre-promotion best intact.
	ErrPromotionFailed = errors.New("golden promotion failed")
)

// Candidate is one comparable file in a ROI library.
type Candidate struct {
	Name   string
	Path   string
	IsBest bool
}

// SampleInfo is CRUD metadata for one file in a ROI library.
type SampleInfo struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"` // best, alternate, backup
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store mediates all disk access to golden libraries. Updates on a
// given (product, idx) are serialized by a per-directory mutex; the
// matcher's compare loop holds the same mutex so it observes a
// consistent point-in-time library. CRUD listings read without it.
type Store struct {
	root   string
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at the products tree.
func NewStore(productsRoot string) *Store {
	return &Store{
		root:   productsRoot,
		logger: log.New(log.Writer(), "[GOLDEN] ", log.LstdFlags),
		locks:  make(map[string]*sync.Mutex),
	}
}

// ROIDir returns the library directory for (product, idx).
func (s *Store) ROIDir(product string, idx int) string {
	return filepath.Join(s.root, product, "golden_rois", fmt.Sprintf("roi_%d", idx))
}

func (s *Store) dirLock(product string, idx int) *sync.Mutex {
	key := product + "/" + fmt.Sprint(idx)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Candidates lists the comparable files: best first, then alternates
// in modification-time ascending order. Backups are not candidates;
// they are only reachable through Restore.
func (s *Store) Candidates(product string, idx int) ([]Candidate, error) {
	dir := s.ROIDir(product, idx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: product %s roi %d", ErrNoGolden, product, idx)
		}
		return nil, fmt.Errorf("listing golden dir %s: %w", dir, err)
	}

	var best *Candidate
	type alt struct {
		c     Candidate
		mtime time.Time
	}
	var alts []alt
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch kindOf(name) {
		case "best":
			best = &Candidate{Name: name, Path: filepath.Join(dir, name), IsBest: true}
		case "alternate":
			info, err := e.Info()
			if err != nil {
				continue
			}
			alts = append(alts, alt{
				c:     Candidate{Name: name, Path: filepath.Join(dir, name)},
				mtime: info.ModTime(),
			})
		}
	}

	sort.Slice(alts, func(i, j int) bool {
		if alts[i].mtime.Equal(alts[j].mtime) {
			return alts[i].c.Name < alts[j].c.Name
		}
		return alts[i].mtime.Before(alts[j].mtime)
	})

	var out []Candidate
	if best != nil {
		out = append(out, *best)
	}
	for _, a := range alts {
		out = append(out, a.c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: product %s roi %d", ErrNoGolden, product, idx)
	}
	return out, nil
}

// LoadImage decodes one golden file.
func (s *Store) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading golden %s: %w", path, err)
	}
	return img, nil
}

// Promote swaps the named alternate into the best slot, backing up the
// former best. The swap is two-phase under the directory mutex: the
// incoming candidate is parked under a temp name first, so any failure
// rolls back to a state where the pre-promotion best is intact.
func (s *Store) Promote(product string, idx int, candidateName string) error {
	if candidateName == BestName {
		return nil
	}
	lock := s.dirLock(product, idx)
	lock.Lock()
	defer lock.Unlock()
	return s.promoteLocked(product, idx, candidateName)
}

func (s *Store) promoteLocked(product string, idx int, candidateName string) error {
	dir := s.ROIDir(product, idx)
	now := time.Now().Unix()

	candidate := filepath.Join(dir, candidateName)
	best := filepath.Join(dir, BestName)
	tmp := filepath.Join(dir, fmt.Sprintf(".promoting_%d.tmp", now))
	backup := filepath.Join(dir, fmt.Sprintf("original_%d_old_best.jpg", now))

	// Phase 1: park the incoming candidate.
	if err := os.Rename(candidate, tmp); err != nil {
		return fmt.Errorf("%w: parking candidate %s: %v", ErrPromotionFailed, candidateName, err)
	}

	// Phase 2: back up the current best, then move the candidate in.
	if _, err := os.Stat(best); err == nil {
		if err := os.Rename(best, backup); err != nil {
			// Roll back phase 1.
			if rerr := os.Rename(tmp, candidate); rerr != nil {
				s.logger.Printf("rollback failed for %s: %v", tmp, rerr)
			}
			return fmt.Errorf("%w: backing up best: %v", ErrPromotionFailed, err)
		}
	}

	if err := os.Rename(tmp, best); err != nil {
		// Restore the old best, then the candidate.
		if rerr := os.Rename(backup, best); rerr != nil {
			s.logger.Printf("rollback failed restoring best in %s: %v", dir, rerr)
		}
		if rerr := os.Rename(tmp, candidate); rerr != nil {
			s.logger.Printf("rollback failed for %s: %v", tmp, rerr)
		}
		return fmt.Errorf("%w: installing new best: %v", ErrPromotionFailed, err)
	}

	s.logger.Printf("promoted %s to %s (product=%s roi=%d)", candidateName, BestName, product, idx)
	return nil
}

// Upload stores a new sample. makeBest installs it as best_golden.jpg
// (backing up any existing best); otherwise it lands as a timestamped
// alternate. If the library has no best yet the upload becomes best
// regardless.
func (s *Store) Upload(product string, idx int, data []byte, makeBest bool) (string, error) {
	dir := s.ROIDir(product, idx)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating golden dir: %w", err)
	}

	lock := s.dirLock(product, idx)
	lock.Lock()
	defer lock.Unlock()

	best := filepath.Join(dir, BestName)
	_, bestErr := os.Stat(best)
	hasBest := bestErr == nil

	if makeBest || !hasBest {
		if hasBest {
			backup := filepath.Join(dir, fmt.Sprintf("original_%d_old_best.jpg", time.Now().Unix()))
			if err := os.Rename(best, backup); err != nil {
				return "", fmt.Errorf("backing up best before upload: %w", err)
			}
		}
		if err := os.WriteFile(best, data, 0o644); err != nil {
			return "", fmt.Errorf("writing best golden: %w", err)
		}
		return BestName, nil
	}

	name := fmt.Sprintf("%d_golden_sample.jpg", time.Now().Unix())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing golden alternate: %w", err)
	}
	return name, nil
}

// Restore makes a named backup the best again. The displaced best is
// backed up in turn, so no bytes are ever lost to a restore.
func (s *Store) Restore(product string, idx int, backupName string) error {
	if kindOf(backupName) != "backup" {
		return fmt.Errorf("%s is not a backup file", backupName)
	}
	lock := s.dirLock(product, idx)
	lock.Lock()
	defer lock.Unlock()

	dir := s.ROIDir(product, idx)
	backup := filepath.Join(dir, backupName)
	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("backup %s: %w", backupName, err)
	}

	best := filepath.Join(dir, BestName)
	if _, err := os.Stat(best); err == nil {
		displaced := filepath.Join(dir, fmt.Sprintf("original_%d_old_best.jpg", time.Now().Unix()))
		if err := os.Rename(best, displaced); err != nil {
			return fmt.Errorf("backing up current best: %w", err)
		}
	}
	if err := os.Rename(backup, best); err != nil {
		return fmt.Errorf("restoring %s: %w", backupName, err)
	}
	s.logger.Printf("restored %s as %s (product=%s roi=%d)", backupName, BestName, product, idx)
	return nil
}

// Delete removes one sample. Deleting the last remaining file of a
// library is forbidden.
func (s *Store) Delete(product string, idx int, name string) error {
	lock := s.dirLock(product, idx)
	lock.Lock()
	defer lock.Unlock()

	dir := s.ROIDir(product, idx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing golden dir: %w", err)
	}
	files := 0
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files++
		if e.Name() == name {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("golden sample %s not found", name)
	}
	if files <= 1 {
		return ErrLastSample
	}
	return os.Remove(filepath.Join(dir, name))
}

// Samples returns CRUD metadata for every file in a ROI library.
func (s *Store) Samples(product string, idx int) ([]SampleInfo, error) {
	dir := s.ROIDir(product, idx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: product %s roi %d", ErrNoGolden, product, idx)
		}
		return nil, err
	}
	var out []SampleInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SampleInfo{
			Name:     e.Name(),
			Kind:     kindOf(e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListProducts returns product IDs that carry at least one golden
// library.
func (s *Store) ListProducts() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var products []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), "golden_rois")); err == nil {
			products = append(products, e.Name())
		}
	}
	sort.Strings(products)
	return products, nil
}

func kindOf(name string) string {
	switch {
	case name == BestName:
		return "best"
	case strings.HasPrefix(name, "original_") && strings.HasSuffix(name, "_old_best.jpg"):
		return "backup"
	case strings.HasSuffix(name, "_golden_sample.jpg"):
		return "alternate"
	default:
		return "other"
	}
}
