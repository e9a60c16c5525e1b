package golden

import (
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/visual-aoi/backend/internal/capability"
)

// epsilon absorbs floating-point noise at the threshold boundary: a
// similarity exactly equal to the threshold passes.
const epsilon = 1e-8

// Outcome is the result of matching a captured crop against a ROI's
// golden library.
type Outcome struct {
	Passed     bool
	Similarity float64 // best score actually seen
	GoldenName string  // file that produced the score (best on fail)
	Golden     image.Image
	Promoted   bool
	// PromotionErr is set when the capture matched an alternate but the
	// swap failed. The pass verdict stands; the library keeps its
	// previous best.
	PromotionErr error
	Comparisons  int
}

// Matcher runs the multi-candidate comparison with short-circuit
// matching and success-only promotion.
type Matcher struct {
	store    *Store
	features *capability.Registry
	logger   *log.Logger

	// onComparison is an optional hook fed into metrics.
	onComparison func(product, method string)
	onPromotion  func(product string, failed bool)
}

// NewMatcher creates a matcher over a store and extractor registry.
func NewMatcher(store *Store, features *capability.Registry) *Matcher {
	return &Matcher{
		store:    store,
		features: features,
		logger:   log.New(log.Writer(), "[MATCHER] ", log.LstdFlags),
	}
}

// Hooks installs observability callbacks.
func (m *Matcher) Hooks(onComparison func(product, method string), onPromotion func(product string, failed bool)) {
	m.onComparison = onComparison
	m.onPromotion = onPromotion
}

// Match compares crop against the golden library of (product, idx).
//
// Candidates are ordered best-first, then alternates by modification
// time. Iteration stops at the first candidate whose similarity meets
// the threshold; if that candidate is not the current best it is
// promoted. A failed match never alters the library.
//
// The listing, the compare loop, and any promotion it triggers all run
// under the library's directory lock: a concurrent promotion's mid-swap
// state (no best, candidate parked under a temp name) is never
// observed, so a crop that matches the library always passes.
func (m *Matcher) Match(ctx context.Context, crop image.Image, product string, idx int, threshold float64, method string) (*Outcome, error) {
	extractor := m.features.Get(method)
	cropVec, err := extractor.Extract(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("extracting capture features: %w", err)
	}
	bounds := crop.Bounds()

	lock := m.store.dirLock(product, idx)
	lock.Lock()
	defer lock.Unlock()

	candidates, err := m.store.Candidates(product, idx)
	if err != nil {
		return nil, err
	}

	out := &Outcome{GoldenName: candidates[0].Name}
	var bestSeen image.Image

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := m.store.LoadImage(cand.Path)
		if err != nil {
			m.logger.Printf("skipping unreadable golden %s: %v", cand.Path, err)
			continue
		}
		resized := imaging.Resize(img, bounds.Dx(), bounds.Dy(), imaging.Lanczos)

		vec, err := extractor.Extract(ctx, resized)
		if err != nil {
			m.logger.Printf("skipping golden %s: feature extraction failed: %v", cand.Name, err)
			continue
		}
		out.Comparisons++
		if m.onComparison != nil {
			m.onComparison(product, method)
		}

		if cand.IsBest {
			bestSeen = img
		}

		score := capability.CosineSimilarity(cropVec, vec)
		if score > out.Similarity {
			out.Similarity = score
		}

		if score+epsilon >= threshold {
			out.Passed = true
			out.Similarity = score
			out.GoldenName = cand.Name
			out.Golden = img

			if !cand.IsBest {
				if perr := m.store.promoteLocked(product, idx, cand.Name); perr != nil {
					out.PromotionErr = perr
					m.logger.Printf("promotion failed (product=%s roi=%d): %v", product, idx, perr)
					if m.onPromotion != nil {
						m.onPromotion(product, true)
					}
				} else {
					out.Promoted = true
					out.GoldenName = BestName
					if m.onPromotion != nil {
						m.onPromotion(product, false)
					}
				}
			}
			// Short-circuit: remaining candidates are not scored.
			return out, nil
		}
	}

	// No candidate met the threshold. Report the best score seen and
	// the designated best; the library is untouched.
	out.Passed = false
	out.GoldenName = candidates[0].Name
	out.Golden = bestSeen
	return out, nil
}

// OutcomePath returns the on-disk path of the file an Outcome refers to.
func (m *Matcher) OutcomePath(product string, idx int, o *Outcome) string {
	return filepath.Join(m.store.ROIDir(product, idx), o.GoldenName)
}
