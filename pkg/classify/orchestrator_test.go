package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perchlabs/birdsense/pkg/audio"
	"github.com/perchlabs/birdsense/pkg/cache"
	"github.com/perchlabs/birdsense/pkg/infer"
	"github.com/perchlabs/birdsense/pkg/kv"
	"github.com/perchlabs/birdsense/pkg/labels"
	"github.com/perchlabs/birdsense/pkg/melspec"
	"github.com/perchlabs/birdsense/pkg/predict"
	"github.com/perchlabs/birdsense/pkg/remote"
)

// stubSession replays a fixed output vector.
type stubSession struct {
	output []float32
}

func (s *stubSession) Run([]float32) ([]float32, error) {
	out := make([]float32, len(s.output))
	copy(out, s.output)
	return out, nil
}

func (s *stubSession) Close() error { return nil }

// stubBackend maps asset bytes to canned outputs. Assets resolve each
// name to its own bytes, so outputs key on the model name.
type stubBackend struct {
	outputs map[string][]float32 // model name -> output
	broken  bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Load(model []byte, accel infer.Accelerator) (infer.Session, error) {
	if b.broken {
		return nil, fmt.Errorf("no runtime: %w", infer.ErrAcceleratorUnavailable)
	}
	out, ok := b.outputs[string(model)]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	return &stubSession{output: out}, nil
}

// stubRemote records submissions and replays a canned result.
type stubRemote struct {
	calls atomic.Int32
	set   predict.Set
	err   error
}

func (r *stubRemote) Submit(ctx context.Context, filename string, payload []byte, opts remote.SubmitOptions) (predict.Set, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	out := make(predict.Set, len(r.set))
	copy(out, r.set)
	return out, nil
}

const labelData = `Cardinalis cardinalis_Northern Cardinal
Hylocichla mustelina_Wood Thrush
Cyanocitta cristata_Blue Jay
`

var (
	primarySpec = infer.Spec{
		Name: "bird.tflite", InputHeight: 16, InputWidth: 16, InputChannels: 1, OutputSize: 3,
	}
	metaSpec = infer.Spec{Name: "meta.tflite", InputSize: 3, OutputSize: 3}
)

type testEnv struct {
	engine  *Engine
	backend *stubBackend
	remote  *stubRemote
	media   string
}

// newTestEnv wires an engine over stub inference with a real cache and
// a real (throwaway) media file. The decoder is stubbed so the media
// bytes never need to be a valid recording.
func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()

	backend := &stubBackend{outputs: map[string][]float32{
		"bird.tflite": {0.85, 0.42, 0.10},
		"meta.tflite": {1, 1, 0},
	}}
	assets := infer.AssetFunc(func(ctx context.Context, name string) ([]byte, error) {
		return []byte(name), nil
	})
	unit := infer.NewUnit(backend, assets)
	unit.RegisterVariant("default", primarySpec)

	table, err := labels.ParseBytes([]byte(labelData))
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]EngineOption{
		WithExtractor(melspec.Config{
			SampleRate: 16000, WindowSize: 512, HopSize: 256, MelFilters: 16,
			OutHeight: 16, OutWidth: 16, Channels: 1, Normalize: true,
		}),
	}, opts...)

	e := NewEngine(Config{TargetSampleRate: 16000}, unit, table, opts...)
	t.Cleanup(func() { e.Close() })

	e.decode = func(string) (*audio.Sample, error) {
		return &audio.Sample{Data: make([]float32, 16000), Rate: 16000}, nil
	}

	media := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(media, []byte("recording bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	return &testEnv{engine: e, backend: backend, media: media}
}

func (env *testEnv) withRemote(set predict.Set, err error) *testEnv {
	env.remote = &stubRemote{set: set, err: err}
	env.engine.remote = env.remote
	return env
}

func TestClassifyOnDevice(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.engine.Classify(context.Background(), env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Source != SourceOnDevice {
		t.Fatalf("source = %s, want on_device", resp.Source)
	}
	if resp.CacheHit || resp.FallbackUsed {
		t.Fatalf("cache_hit=%v fallback=%v on a clean on-device run", resp.CacheHit, resp.FallbackUsed)
	}
	// Outputs 0.85/0.42/0.10 against the default 0.3 threshold: two
	// predictions survive, highest first.
	if len(resp.Predictions) != 2 {
		t.Fatalf("predictions = %+v, want 2", resp.Predictions)
	}
	if resp.Predictions[0].CommonName != "Northern Cardinal" || resp.Predictions[0].Confidence != 0.85 {
		t.Fatalf("top prediction = %+v", resp.Predictions[0])
	}
	if resp.Predictions[1].CommonName != "Wood Thrush" {
		t.Fatalf("second prediction = %+v", resp.Predictions[1])
	}
	if resp.Predictions[0].ScientificName != "Cardinalis cardinalis" {
		t.Fatalf("scientific name = %q", resp.Predictions[0].ScientificName)
	}
}

func TestClassifyThresholdOverride(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.engine.Classify(context.Background(), env.media, Options{
		HasMinConfidence: true, MinConfidence: 0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Predictions) != 3 {
		t.Fatalf("lowered threshold should pass all 3, got %d", len(resp.Predictions))
	}
}

func TestClassifyMaxResults(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cfg.MaxResults = 1
	resp, err := env.engine.Classify(context.Background(), env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Predictions) != 1 || resp.Predictions[0].Confidence != 0.85 {
		t.Fatalf("predictions = %+v, want just the top one", resp.Predictions)
	}
}

func TestClassifyCacheHit(t *testing.T) {
	env := newTestEnv(t, WithCache(cache.New(kv.NewMemory(), cache.Config{})))
	ctx := context.Background()

	first, err := env.engine.Classify(ctx, env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Fatal("first call should not hit cache")
	}

	second, err := env.engine.Classify(ctx, env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit || second.Source != SourceCache {
		t.Fatalf("second call: cache_hit=%v source=%s", second.CacheHit, second.Source)
	}
	if len(second.Predictions) != len(first.Predictions) {
		t.Fatalf("cached response differs: %d vs %d predictions",
			len(second.Predictions), len(first.Predictions))
	}
	for i := range first.Predictions {
		if second.Predictions[i] != first.Predictions[i] {
			t.Fatalf("prediction %d differs: %+v vs %+v",
				i, second.Predictions[i], first.Predictions[i])
		}
	}
}

func TestClassifyCacheStoresFullSet(t *testing.T) {
	env := newTestEnv(t, WithCache(cache.New(kv.NewMemory(), cache.Config{})))
	ctx := context.Background()

	if _, err := env.engine.Classify(ctx, env.media, Options{}); err != nil {
		t.Fatal(err)
	}
	// The cache holds the unfiltered set, so a later call may loosen the
	// threshold and still be served from cache.
	resp, err := env.engine.Classify(ctx, env.media, Options{
		HasMinConfidence: true, MinConfidence: 0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.CacheHit {
		t.Fatal("expected a cache hit")
	}
	if len(resp.Predictions) != 3 {
		t.Fatalf("cached full set not re-filtered: got %d predictions", len(resp.Predictions))
	}
}

func TestClassifyRemoteFallback(t *testing.T) {
	env := newTestEnv(t).withRemote(predict.Set{
		{CommonName: "Northern Cardinal", Confidence: 0.77},
	}, nil)
	env.backend.broken = true

	resp, err := env.engine.Classify(context.Background(), env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceRemote {
		t.Fatalf("source = %s, want remote", resp.Source)
	}
	if !resp.FallbackUsed {
		t.Fatal("fallback_used should be set when on-device failed first")
	}
	if env.remote.calls.Load() != 1 {
		t.Fatalf("remote called %d times", env.remote.calls.Load())
	}
	if len(resp.Predictions) != 1 || resp.Predictions[0].Confidence != 0.77 {
		t.Fatalf("predictions = %+v", resp.Predictions)
	}
}

func TestClassifyForceOffline(t *testing.T) {
	env := newTestEnv(t).withRemote(predict.Set{{CommonName: "x", Confidence: 0.9}}, nil)
	env.backend.broken = true

	_, err := env.engine.Classify(context.Background(), env.media, Options{ForceOffline: true})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !cerr.Attempted(StageInfer) {
		t.Fatalf("attempts = %+v, want an infer attempt", cerr.Attempts)
	}
	if cerr.Attempted(StageRemote) {
		t.Fatal("forced offline must not attempt the remote stage")
	}
	if env.remote.calls.Load() != 0 {
		t.Fatal("forced offline must not contact the remote service")
	}
	if !errors.Is(err, infer.ErrAcceleratorUnavailable) {
		t.Fatalf("aggregate error should unwrap to the load failure: %v", err)
	}
}

func TestClassifyForceOnline(t *testing.T) {
	env := newTestEnv(t, WithCache(cache.New(kv.NewMemory(), cache.Config{}))).
		withRemote(predict.Set{{CommonName: "Blue Jay", Confidence: 0.66}}, nil)
	ctx := context.Background()

	// Populate the cache with an on-device result first.
	if _, err := env.engine.Classify(ctx, env.media, Options{}); err != nil {
		t.Fatal(err)
	}

	resp, err := env.engine.Classify(ctx, env.media, Options{ForceOnline: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceRemote || resp.CacheHit {
		t.Fatalf("force_online: source=%s cache_hit=%v", resp.Source, resp.CacheHit)
	}
	if resp.FallbackUsed {
		t.Fatal("force_online is not a fallback")
	}
	if env.remote.calls.Load() != 1 {
		t.Fatalf("remote called %d times", env.remote.calls.Load())
	}
}

func TestClassifyForceFlagsConflict(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Classify(context.Background(), env.media, Options{
		ForceOffline: true, ForceOnline: true,
	})
	if err == nil {
		t.Fatal("conflicting force flags should fail")
	}
}

func TestClassifyNotFound(t *testing.T) {
	env := newTestEnv(t).withRemote(predict.Set{{CommonName: "x", Confidence: 0.9}}, nil)

	_, err := env.engine.Classify(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
	if env.remote.calls.Load() != 0 {
		t.Fatal("a missing file must not trigger the remote fallback")
	}
}

func TestClassifyDecodeFailureFallsBack(t *testing.T) {
	env := newTestEnv(t).withRemote(predict.Set{{CommonName: "Wood Thrush", Confidence: 0.5}}, nil)
	env.engine.decode = func(string) (*audio.Sample, error) {
		return nil, audio.ErrUnsupportedFormat
	}

	resp, err := env.engine.Classify(context.Background(), env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceRemote || !resp.FallbackUsed {
		t.Fatalf("source=%s fallback=%v", resp.Source, resp.FallbackUsed)
	}
}

func TestClassifyDecodeFailureForcedOffline(t *testing.T) {
	env := newTestEnv(t).withRemote(predict.Set{{CommonName: "x", Confidence: 0.9}}, nil)
	env.engine.decode = func(string) (*audio.Sample, error) {
		return nil, audio.ErrUnsupportedFormat
	}

	_, err := env.engine.Classify(context.Background(), env.media, Options{ForceOffline: true})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !cerr.Attempted(StageDecode) || cerr.Attempted(StageRemote) {
		t.Fatalf("attempts = %+v, want decode only", cerr.Attempts)
	}
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("aggregate error should unwrap to the decode failure: %v", err)
	}
	if env.remote.calls.Load() != 0 {
		t.Fatal("forced offline must not contact the remote service")
	}
}

func TestClassifyShortClip(t *testing.T) {
	env := newTestEnv(t)
	env.engine.decode = func(string) (*audio.Sample, error) {
		return &audio.Sample{Data: make([]float32, 100), Rate: 16000}, nil
	}

	_, err := env.engine.Classify(context.Background(), env.media, Options{ForceOffline: true})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !cerr.Attempted(StageExtract) {
		t.Fatalf("attempts = %+v, want an extract attempt", cerr.Attempts)
	}
}

func TestClassifyAllPathsFail(t *testing.T) {
	env := newTestEnv(t).withRemote(nil, &remote.Error{HTTPStatus: 503, Message: "unavailable"})
	env.backend.broken = true

	_, err := env.engine.Classify(context.Background(), env.media, Options{})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !cerr.Attempted(StageInfer) || !cerr.Attempted(StageRemote) {
		t.Fatalf("attempts = %+v, want infer and remote", cerr.Attempts)
	}
}

func TestClassifyNoRemoteConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.backend.broken = true

	_, err := env.engine.Classify(context.Background(), env.media, Options{})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !cerr.Attempted(StageRemote) {
		t.Fatalf("attempts = %+v, want a remote attempt", cerr.Attempts)
	}
}

func TestClassifyMetaBlend(t *testing.T) {
	env := newTestEnv(t, WithMetaModel(metaSpec))
	resp, err := env.engine.Classify(context.Background(), env.media, Options{
		HasLocation: true, Latitude: 41.88, Longitude: -87.63, Week: 24,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceMetaBlended {
		t.Fatalf("source = %s, want meta_blended", resp.Source)
	}
	// Meta multipliers [1, 1, 0] at influence 0.5: the first two species
	// keep their confidence, Blue Jay halves to 0.05 and drops below the
	// threshold.
	if len(resp.Predictions) != 2 {
		t.Fatalf("predictions = %+v", resp.Predictions)
	}
	if resp.Predictions[0].Confidence != 0.85 || resp.Predictions[1].Confidence != 0.42 {
		t.Fatalf("blend altered in-range confidences: %+v", resp.Predictions)
	}
}

func TestClassifyMetaBlendSkippedWithoutLocation(t *testing.T) {
	env := newTestEnv(t, WithMetaModel(metaSpec))
	resp, err := env.engine.Classify(context.Background(), env.media, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceOnDevice {
		t.Fatalf("source = %s, want on_device without location", resp.Source)
	}
}

func TestClassifyMetaFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t, WithMetaModel(infer.Spec{Name: "absent.tflite", InputSize: 3}))
	env.backend.outputs["bird.tflite"] = []float32{0.85, 0.42, 0.10}
	// "absent.tflite" resolves to bytes the backend does not recognize,
	// so the meta load fails while the primary model keeps working.
	resp, err := env.engine.Classify(context.Background(), env.media, Options{
		HasLocation: true, Latitude: 1, Longitude: 2, Week: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceOnDevice {
		t.Fatalf("source = %s, want plain on_device after meta failure", resp.Source)
	}
	if len(resp.Predictions) != 2 {
		t.Fatalf("predictions = %+v", resp.Predictions)
	}
}

func TestWeek48(t *testing.T) {
	cases := []struct {
		date time.Time
		want int
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), 22},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), 48},
	}
	for _, c := range cases {
		if got := Week48(c.date); got != c.want {
			t.Fatalf("Week48(%s) = %d, want %d", c.date.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestFinalize(t *testing.T) {
	set := predict.Set{
		{CommonName: "a", Confidence: 0.2},
		{CommonName: "b", Confidence: 0.9},
		{CommonName: "c", Confidence: 0.5},
		{CommonName: "d", Confidence: 0.4},
	}
	out := finalize(set, 0.3, 2)
	if len(out) != 2 || out[0].Confidence != 0.9 || out[1].Confidence != 0.5 {
		t.Fatalf("finalize = %+v", out)
	}
}
