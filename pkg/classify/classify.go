// Package classify orchestrates the full identification pipeline: it
// turns a recorded clip into a ranked list of species predictions,
// deciding per call whether to serve from cache, run the on-device
// models, or fall back to the remote service.
//
// # Decision procedure
//
// For each Classify call, in order, short-circuiting on first success:
//
//  1. Validate the media file exists (missing → NotFound, no fallback)
//  2. Consult the result cache by content fingerprint
//  3. Decode → extract features → infer, with optional meta-model blend
//  4. Fall back to the remote service, unless the caller forced offline
//
// Every stage failure is recorded; if all paths fail the caller gets an
// aggregate [*Error] naming each attempted stage. Confidence filtering
// happens once, here at the boundary; the model unit below stays
// threshold-agnostic.
package classify

import (
	"time"

	"github.com/perchlabs/birdsense/pkg/predict"
)

// Source identifies which path produced a response.
type Source string

const (
	// SourceOnDevice means the primary model ran locally.
	SourceOnDevice Source = "on_device"

	// SourceMetaBlended means the on-device result was re-weighted by
	// the location/season meta model.
	SourceMetaBlended Source = "meta_blended"

	// SourceRemote means the hosted service classified the clip.
	SourceRemote Source = "remote"

	// SourceCache means a previous result was served by fingerprint.
	SourceCache Source = "cache"
)

// Options are the per-call knobs of Classify.
type Options struct {
	// ForceOffline forbids the remote fallback: an on-device failure
	// propagates to the caller.
	ForceOffline bool

	// ForceOnline skips the cache and the on-device path entirely.
	ForceOnline bool

	// MinConfidence overrides the engine's default threshold when
	// HasMinConfidence is set.
	HasMinConfidence bool
	MinConfidence    float32

	// Observation location and week of year (1–48) for the meta model
	// and the remote service. Ignored unless HasLocation.
	HasLocation bool
	Latitude    float64
	Longitude   float64
	Week        int
}

// Response is the normalized outcome shape of every successful call.
type Response struct {
	// Predictions is sorted by descending confidence, filtered to the
	// effective threshold, and capped at the configured maximum.
	Predictions predict.Set

	// ProcessingTime is the wall time the call took.
	ProcessingTime time.Duration

	// Source names the path that produced the predictions.
	Source Source

	// FallbackUsed is true when the on-device path failed and the
	// remote service answered instead.
	FallbackUsed bool

	// CacheHit is true when the response was served from cache.
	CacheHit bool
}
