package imagededup

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// embeddingFingerprint is a fixed-length feature vector from the model
// service, compared by cosine similarity.
type embeddingFingerprint []float32

// backend initialization states.
type embeddingState int

const (
	embeddingUninitialized embeddingState = iota
	embeddingLoading
	embeddingReady
	embeddingFailed
)

// EmbeddingStrategy fingerprints images through an out-of-process model
// service. The service is probed lazily exactly once: concurrent
// callers during initialization wait for the same in-flight probe, and
// a failed probe is cached as permanently unavailable so every later
// call fails fast instead of re-paying the startup cost.
type EmbeddingStrategy struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger

	mu      sync.Mutex
	state   embeddingState
	initErr error
	done    chan struct{}
}

// NewEmbeddingStrategy creates the embedding backend against a model
// service endpoint. Nothing is contacted until the first call.
func NewEmbeddingStrategy(endpoint string, log *logrus.Logger) *EmbeddingStrategy {
	return &EmbeddingStrategy{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log,
	}
}

func (e *EmbeddingStrategy) Name() string { return "embedding" }

func (e *EmbeddingStrategy) Cap() int { return EmbeddingImageCap }

// Ready initializes the backend on first use and returns the cached
// verdict afterwards.
func (e *EmbeddingStrategy) Ready() error {
	e.mu.Lock()
	switch e.state {
	case embeddingReady:
		e.mu.Unlock()
		return nil
	case embeddingFailed:
		err := e.initErr
		e.mu.Unlock()
		return err
	case embeddingLoading:
		done := e.done
		e.mu.Unlock()
		<-done
		return e.Ready()
	}

	// First caller performs the probe; everyone else waits on done.
	e.state = embeddingLoading
	e.done = make(chan struct{})
	e.mu.Unlock()

	err := e.probe()

	e.mu.Lock()
	if err != nil {
		e.state = embeddingFailed
		e.initErr = fmt.Errorf("%w: embedding service at %s: %v", listing.ErrCapabilityUnavailable, e.endpoint, err)
		e.log.Warnf("Embedding backend disabled: %v", err)
	} else {
		e.state = embeddingReady
		e.log.Infof("Embedding backend ready at %s", e.endpoint)
	}
	close(e.done)
	err = e.initErr
	e.mu.Unlock()
	return err
}

func (e *EmbeddingStrategy) probe() error {
	if e.endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}
	resp, err := e.client.Get(e.endpoint + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Fingerprint posts the image bytes to the model service and parses the
// returned vector. Unreadable files and service hiccups yield nil; the
// grouping layer treats those images as unique.
func (e *EmbeddingStrategy) Fingerprint(path string) Fingerprint {
	if e.Ready() != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Debugf("Fingerprint %s: %v", path, err)
		return nil
	}

	resp, err := e.client.Post(e.endpoint+"/embed", "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		e.log.Debugf("Fingerprint %s: embed call: %v", path, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.log.Debugf("Fingerprint %s: embed call returned %d", path, resp.StatusCode)
		return nil
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		e.log.Debugf("Fingerprint %s: read embed response: %v", path, err)
		return nil
	}
	values := gjson.GetBytes(buf.Bytes(), "embedding").Array()
	if len(values) == 0 {
		e.log.Debugf("Fingerprint %s: empty embedding", path)
		return nil
	}
	vec := make(embeddingFingerprint, len(values))
	for i, v := range values {
		vec[i] = float32(v.Float())
	}
	return vec
}

// Match treats the threshold as a minimum cosine similarity
// (default 0.92).
func (e *EmbeddingStrategy) Match(a, b Fingerprint, threshold float64) (float64, bool) {
	fa, okA := a.(embeddingFingerprint)
	fb, okB := b.(embeddingFingerprint)
	if !okA || !okB {
		return 0, false
	}
	if threshold <= 0 {
		threshold = DefaultEmbeddingThreshold
	}
	sim := float64(cosineSimilarity(fa, fb))
	return sim, sim >= threshold
}

// cosineSimilarity returns 0 for zero-norm vectors or mismatched
// lengths.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	na := float32(math.Sqrt(float64(normA)))
	nb := float32(math.Sqrt(float64(normB)))
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
