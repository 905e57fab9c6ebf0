// Package cluster implements online speaker clustering: the sequential
// leader algorithm with running-mean centroid updates, ported from the
// original_source OnlineClusterer.
//
// Strengths: O(n) single-pass, low memory (centroids + counts only), simple
// to reason about. Weaknesses inherited from the algorithm: order-dependent,
// threshold-sensitive, no cluster merging, and centroid drift over long
// sessions. See the threshold-scaling and previous-cluster-bias notes below;
// both were added to reduce over-segmentation on short utterances.
package cluster

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Cluster is a single speaker's running centroid.
type Cluster struct {
	ID          uint64
	Centroid    []float32
	SampleCount uint64
}

const (
	scaleMin    = 2.0
	scaleMax    = 3.0
	durationMin = 1.0
	thresholdMax = 1.5
)

// Options configures an Online clusterer.
type Options struct {
	EmbeddingSize int
	Threshold     float32
}

// DefaultOptions matches the reference engine's defaults (512-dim
// embeddings, 0.8 cosine-distance threshold).
func DefaultOptions() Options {
	return Options{EmbeddingSize: 512, Threshold: 0.8}
}

// Online is a sequential-leader clusterer with centroid updating.
type Online struct {
	opts               Options
	clusters           map[uint64]*Cluster
	previousClusterID  uint64
	hasPreviousCluster bool
}

// New creates an Online clusterer with the given options.
func New(opts Options) *Online {
	return &Online{opts: opts, clusters: make(map[uint64]*Cluster)}
}

// EmbedAndCluster assigns embedding to the nearest existing cluster (by
// cosine distance) if within the effective threshold for audioDurationS, or
// creates a new cluster otherwise. Returns the chosen cluster id.
//
// Segments of 1 second or less reuse the previous cluster id unchanged once
// one exists (too short to trust an embedding from); segments of up to 2
// seconds use the relaxed maximum threshold, and segments between 2 and 3
// seconds use a threshold interpolated linearly from that maximum down to
// the configured one, so brief continuations of the same speaker don't
// spawn new clusters.
func (o *Online) EmbedAndCluster(embedding []float32, audioDurationS float32) (uint64, error) {
	if len(embedding) != o.opts.EmbeddingSize {
		return 0, fmt.Errorf("cluster: embedding size %d must match configured size %d", len(embedding), o.opts.EmbeddingSize)
	}

	var minDistance float32 = -1
	var closestID uint64
	foundCluster := false
	for id, c := range o.clusters {
		d, err := CosineDistance(embedding, c.Centroid)
		if err != nil {
			return 0, err
		}
		if !foundCluster || d < minDistance {
			minDistance = d
			closestID = id
			foundCluster = true
		}
	}

	currentThreshold, shortCircuit := o.effectiveThreshold(audioDurationS)
	if shortCircuit {
		return o.previousClusterID, nil
	}

	var resultID uint64
	if foundCluster && minDistance < currentThreshold {
		c := o.clusters[closestID]
		n := float32(c.SampleCount)
		scaleOld := n / (n + 1)
		scaleNew := 1 / (n + 1)
		for i := range c.Centroid {
			c.Centroid[i] = scaleOld*c.Centroid[i] + scaleNew*embedding[i]
		}
		c.SampleCount++
		resultID = closestID
	} else {
		newID, err := randomUint64()
		if err != nil {
			return 0, fmt.Errorf("cluster: generating cluster id: %w", err)
		}
		centroid := make([]float32, len(embedding))
		copy(centroid, embedding)
		o.clusters[newID] = &Cluster{ID: newID, Centroid: centroid, SampleCount: 1}
		resultID = newID
	}

	o.previousClusterID = resultID
	o.hasPreviousCluster = true
	return resultID, nil
}

// effectiveThreshold returns the distance threshold to use for a segment of
// the given duration, and whether the caller should short-circuit and
// return the previous cluster id unchanged (duration <= 1s with a previous
// assignment already on record).
func (o *Online) effectiveThreshold(audioDurationS float32) (threshold float32, shortCircuit bool) {
	switch {
	case audioDurationS > scaleMax:
		return o.opts.Threshold, false
	case audioDurationS > scaleMin:
		scaleFactor := (audioDurationS - scaleMin) / (scaleMax - scaleMin)
		return o.opts.Threshold*scaleFactor + thresholdMax*(1-scaleFactor), false
	case audioDurationS > durationMin:
		return thresholdMax, false
	case o.hasPreviousCluster:
		return 0, true
	default:
		return thresholdMax, false
	}
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
