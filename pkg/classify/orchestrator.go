package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/perchlabs/birdsense/pkg/audio"
	"github.com/perchlabs/birdsense/pkg/audio/wav"
	"github.com/perchlabs/birdsense/pkg/cache"
	"github.com/perchlabs/birdsense/pkg/infer"
	"github.com/perchlabs/birdsense/pkg/labels"
	"github.com/perchlabs/birdsense/pkg/melspec"
	"github.com/perchlabs/birdsense/pkg/predict"
	"github.com/perchlabs/birdsense/pkg/remote"
)

// Remote abstracts the hosted classification service so tests can fake
// it. [remote.Client] satisfies this interface.
type Remote interface {
	Submit(ctx context.Context, filename string, payload []byte, opts remote.SubmitOptions) (predict.Set, error)
}

// Config controls engine behavior. Zero fields take defaults.
type Config struct {
	// TargetSampleRate is the rate clips are resampled to before
	// feature extraction (default 48000, the rate the stock model was
	// trained at).
	TargetSampleRate int `yaml:"target_sample_rate"`

	// MinConfidence is the default prediction threshold (default 0.3),
	// overridable per call.
	MinConfidence float32 `yaml:"min_confidence"`

	// MaxResults caps the returned prediction count (default 5).
	MaxResults int `yaml:"max_results"`

	// MetaInfluence is the meta-model blend factor in [0, 1]
	// (default 0.5). 0 disables the blend even when a meta model is
	// configured.
	MetaInfluence float32 `yaml:"meta_influence"`
}

func (c Config) fill() Config {
	if c.TargetSampleRate <= 0 {
		c.TargetSampleRate = 48000
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.3
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MetaInfluence <= 0 {
		c.MetaInfluence = 0.5
	}
	return c
}

// Engine is the classification orchestrator. Construct one per process
// and share it; all methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	extractor *melspec.Extractor
	unit      *infer.Unit
	metaSpec  *infer.Spec
	table     *labels.Table
	cache     *cache.Cache
	remote    Remote

	// decode and fingerprint are swappable for tests.
	decode      func(string) (*audio.Sample, error)
	fingerprint func(string) (string, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache attaches a result cache. Without one every call runs the
// full pipeline.
func WithCache(c *cache.Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithRemote attaches the remote fallback service.
func WithRemote(r Remote) EngineOption {
	return func(e *Engine) { e.remote = r }
}

// WithMetaModel registers the location/season meta model used to
// re-weight on-device predictions.
func WithMetaModel(spec infer.Spec) EngineOption {
	return func(e *Engine) { e.metaSpec = &spec }
}

// WithExtractor overrides the feature extraction parameters.
func WithExtractor(cfg melspec.Config) EngineOption {
	return func(e *Engine) { e.extractor = melspec.New(cfg) }
}

// NewEngine creates an Engine over a model execution unit and its
// species label table.
func NewEngine(cfg Config, unit *infer.Unit, table *labels.Table, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:         cfg.fill(),
		unit:        unit,
		table:       table,
		decode:      wav.DecodeFile,
		fingerprint: cache.Fingerprint,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extractor == nil {
		mc := melspec.DefaultConfig()
		mc.SampleRate = e.cfg.TargetSampleRate
		e.extractor = melspec.New(mc)
	}
	return e
}

// Classify runs the decision procedure for one media file and returns
// a normalized response. Repeated calls with the same file and no
// forcing options are side-effect-equivalent except for cache
// population; the second call hits cache and skips decode and
// inference entirely.
func (e *Engine) Classify(ctx context.Context, mediaURI string, opts Options) (*Response, error) {
	start := time.Now()
	if opts.ForceOffline && opts.ForceOnline {
		return nil, fmt.Errorf("classify: force_offline and force_online are mutually exclusive")
	}

	threshold := e.cfg.MinConfidence
	if opts.HasMinConfidence {
		threshold = opts.MinConfidence
	}

	// Step 1: the file must exist. Missing input is the caller's
	// mistake; no fallback is attempted.
	fp, err := e.fingerprint(mediaURI)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("classify: %s: %w", mediaURI, os.ErrNotExist)
		}
		return nil, fmt.Errorf("classify: %s: %w", mediaURI, err)
	}

	// Step 2: cache lookup by content fingerprint.
	if !opts.ForceOnline && e.cache != nil {
		if set, ok := e.cache.Get(ctx, fp); ok {
			return &Response{
				Predictions:    finalize(set, threshold, e.cfg.MaxResults),
				ProcessingTime: time.Since(start),
				Source:         SourceCache,
				CacheHit:       true,
			}, nil
		}
	}

	var attempts []Attempt

	// Step 3: on-device path.
	if !opts.ForceOnline {
		set, source, ok := e.classifyOnDevice(ctx, mediaURI, opts, &attempts)
		if ok {
			if e.cache != nil {
				// The full sorted set is cached so later calls can
				// apply their own thresholds.
				if err := e.cache.Put(ctx, fp, set); err != nil {
					log.Printf("classify: cache write: %v", err)
				}
			}
			return &Response{
				Predictions:    finalize(set, threshold, e.cfg.MaxResults),
				ProcessingTime: time.Since(start),
				Source:         source,
			}, nil
		}
		// Forced offline is a caller contract: propagate instead of
		// falling back.
		if opts.ForceOffline {
			return nil, &Error{URI: mediaURI, Attempts: attempts}
		}
	}

	// Steps 4–5: remote fallback.
	set, err := e.classifyRemote(ctx, mediaURI, opts, threshold)
	if err != nil {
		attempts = append(attempts, Attempt{Stage: StageRemote, Err: err})
		return nil, &Error{URI: mediaURI, Attempts: attempts}
	}
	return &Response{
		Predictions:    finalize(set, threshold, e.cfg.MaxResults),
		ProcessingTime: time.Since(start),
		Source:         SourceRemote,
		FallbackUsed:   len(attempts) > 0,
	}, nil
}

// classifyOnDevice runs decode → extract → infer → optional meta blend.
// On failure it records the stage in attempts and returns ok=false.
func (e *Engine) classifyOnDevice(ctx context.Context, mediaURI string, opts Options, attempts *[]Attempt) (predict.Set, Source, bool) {
	sample, err := e.decode(mediaURI)
	if err != nil {
		*attempts = append(*attempts, Attempt{Stage: StageDecode, Err: err})
		return nil, "", false
	}
	sample = audio.Resample(sample, e.cfg.TargetSampleRate)

	tensor := e.extractor.Extract(sample)
	if tensor == nil {
		*attempts = append(*attempts, Attempt{
			Stage: StageExtract,
			Err:   fmt.Errorf("clip shorter than one analysis window (%v)", sample.Duration()),
		})
		return nil, "", false
	}

	handle, err := e.unit.Active(ctx)
	if err != nil {
		*attempts = append(*attempts, Attempt{Stage: StageInfer, Err: err})
		return nil, "", false
	}
	probs, err := e.unit.Infer(handle, tensor)
	if err != nil {
		*attempts = append(*attempts, Attempt{Stage: StageInfer, Err: err})
		return nil, "", false
	}

	source := SourceOnDevice
	if e.metaSpec != nil && opts.HasLocation && e.cfg.MetaInfluence > 0 {
		if blended, ok := e.blendMeta(ctx, probs, opts); ok {
			probs = blended
			source = SourceMetaBlended
		}
	}

	set := make(predict.Set, 0, len(probs))
	for i, conf := range probs {
		sp := e.table.At(i)
		set = append(set, predict.Prediction{
			CommonName:     sp.CommonName,
			ScientificName: sp.ScientificName,
			Confidence:     conf,
		})
	}
	set.Sort()
	return set, source, true
}

// blendMeta re-weights probabilities by the meta model. Meta failures
// are non-fatal: the plain audio predictions stand.
func (e *Engine) blendMeta(ctx context.Context, probs []float32, opts Options) ([]float32, bool) {
	handle, err := e.unit.LoadModel(ctx, *e.metaSpec)
	if err != nil {
		log.Printf("classify: meta model load: %v", err)
		return nil, false
	}
	week := opts.Week
	if week <= 0 {
		week = Week48(time.Now())
	}
	metaProbs, err := e.unit.InferVector(handle, infer.MetaFeatures(opts.Latitude, opts.Longitude, week))
	if err != nil {
		log.Printf("classify: meta model run: %v", err)
		return nil, false
	}
	return infer.Blend(probs, metaProbs, e.cfg.MetaInfluence), true
}

// classifyRemote uploads the clip to the hosted service.
func (e *Engine) classifyRemote(ctx context.Context, mediaURI string, opts Options, threshold float32) (predict.Set, error) {
	if e.remote == nil {
		return nil, errors.New("no remote service configured")
	}
	payload, err := os.ReadFile(mediaURI)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return e.remote.Submit(ctx, filepath.Base(mediaURI), payload, remote.SubmitOptions{
		HasLocation:   opts.HasLocation,
		Latitude:      opts.Latitude,
		Longitude:     opts.Longitude,
		Week:          opts.Week,
		MinConfidence: threshold,
		MaxResults:    e.cfg.MaxResults,
	})
}

// SwitchModel switches the active on-device model variant.
func (e *Engine) SwitchModel(ctx context.Context, variant string) error {
	return e.unit.SwitchModel(ctx, variant)
}

// Close tears down the engine: the cache sweeper stops and loaded model
// sessions are released.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	return e.unit.Close()
}

// finalize applies the response-boundary invariants: descending
// confidence order, threshold filter, result cap.
func finalize(set predict.Set, threshold float32, maxResults int) predict.Set {
	out := set.Filter(threshold)
	out.Sort()
	return out.Cap(maxResults)
}

// Week48 maps a date onto BirdNET's 48-week year (four weeks per
// month), the encoding the meta model was trained with.
func Week48(t time.Time) int {
	month := int(t.Month())
	weekOfMonth := (t.Day() - 1) / 8
	if weekOfMonth > 3 {
		weekOfMonth = 3
	}
	return (month-1)*4 + weekOfMonth + 1
}
