package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// FeatureExtractor turns an image into a feature vector for similarity
// scoring. Extractors must be safe for concurrent inference.
type FeatureExtractor interface {
	Extract(ctx context.Context, img image.Image) ([]float64, error)
	Method() string
}

// CosineSimilarity computes the cosine of two feature vectors. A
// dimension mismatch is resolved by zero-padding the shorter vector,
// never by dropping data.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// HistogramExtractor is the local fallback extractor ("opencv" method):
// an 8x8x8 RGB histogram, L2-normalized. It needs no external model
// and is fully deterministic.
type HistogramExtractor struct{}

func (HistogramExtractor) Method() string { return "opencv" }

func (HistogramExtractor) Extract(_ context.Context, img image.Image) ([]float64, error) {
	const bins = 8
	hist := make([]float64, bins*bins*bins)
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			ri := int(r>>8) * bins / 256
			gi := int(g>>8) * bins / 256
			bi := int(b>>8) * bins / 256
			hist[ri*bins*bins+gi*bins+bi]++
		}
	}
	var norm float64
	for _, v := range hist {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range hist {
			hist[i] /= norm
		}
	}
	return hist, nil
}

// RemoteExtractor calls a neural inference sidecar ("mobilenet"
// method): POST a JPEG, receive {"features": [...]}.
type RemoteExtractor struct {
	endpoint string
	method   string
	client   *http.Client
}

// NewRemoteExtractor creates an extractor against an inference
// endpoint.
func NewRemoteExtractor(endpoint, method string, timeout time.Duration) *RemoteExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteExtractor{
		endpoint: endpoint,
		method:   method,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *RemoteExtractor) Method() string { return e.method }

func (e *RemoteExtractor) Extract(ctx context.Context, img image.Image) ([]float64, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encoding crop for feature extraction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feature service returned %d", resp.StatusCode)
	}

	var body struct {
		Features []float64 `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding feature response: %w", err)
	}
	if len(body.Features) == 0 {
		return nil, fmt.Errorf("feature service returned an empty vector")
	}
	return body.Features, nil
}

// Registry resolves feature_method keys to extractors. Extractors are
// process-wide and lazily initialized; the histogram extractor serves
// as the fallback for unknown methods or when no remote endpoint is
// configured.
type Registry struct {
	mu         sync.Mutex
	extractors map[string]FeatureExtractor
	mobileNet  string // endpoint, may be empty
	timeout    time.Duration
	logger     *log.Logger
}

// NewRegistry creates a registry. mobileNetURL may be empty, in which
// case "mobilenet" requests fall back to the histogram extractor.
func NewRegistry(mobileNetURL string, timeout time.Duration) *Registry {
	return &Registry{
		extractors: make(map[string]FeatureExtractor),
		mobileNet:  mobileNetURL,
		timeout:    timeout,
		logger:     log.New(log.Writer(), "[FEATURES] ", log.LstdFlags),
	}
}

// Get returns the extractor for a feature_method key.
func (r *Registry) Get(method string) FeatureExtractor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.extractors[method]; ok {
		return ex
	}

	var ex FeatureExtractor
	switch method {
	case "mobilenet":
		if r.mobileNet != "" {
			ex = NewRemoteExtractor(r.mobileNet, "mobilenet", r.timeout)
		} else {
			r.logger.Printf("no mobilenet endpoint configured, falling back to histogram features")
			ex = HistogramExtractor{}
		}
	default:
		ex = HistogramExtractor{}
	}
	r.extractors[method] = ex
	return ex
}

// Register installs a custom extractor for a method key. Tests use
// this to count extractions.
func (r *Registry) Register(method string, ex FeatureExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[method] = ex
}
