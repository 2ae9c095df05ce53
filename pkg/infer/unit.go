package infer

import (
	"context"
	"fmt"
	"sync"

	"github.com/perchlabs/birdsense/pkg/melspec"
)

// AssetSource supplies serialized model files by logical name.
// The storage adapter returned by [NewStoreSource] is the usual
// implementation.
type AssetSource interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// AssetFunc adapts a function to the AssetSource interface.
type AssetFunc func(ctx context.Context, name string) ([]byte, error)

func (f AssetFunc) Load(ctx context.Context, name string) ([]byte, error) {
	return f(ctx, name)
}

// Unit is the model execution unit. It loads models through a Backend,
// falling back down the accelerator preference list, and keeps at most
// one live load per asset: concurrent callers await the in-flight load
// instead of triggering a duplicate.
//
// The unit also holds the active primary-model variant; SwitchModel
// replaces it atomically.
type Unit struct {
	backend Backend
	assets  AssetSource
	order   []Accelerator // optional override of PreferenceOrder

	mu       sync.Mutex
	handles  map[string]*loadState
	variants map[string]Spec
	active   string // variant name of the active primary model
}

// loadState tracks one asset's load. done is closed when the load
// finishes; handle/err are valid after that.
type loadState struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// UnitOption configures a Unit.
type UnitOption func(*Unit)

// WithAcceleratorOrder overrides the accelerator preference order for
// all models, regardless of quantization.
func WithAcceleratorOrder(order []Accelerator) UnitOption {
	return func(u *Unit) {
		if len(order) > 0 {
			u.order = order
		}
	}
}

// NewUnit creates a Unit over the given backend and asset source.
func NewUnit(backend Backend, assets AssetSource, opts ...UnitOption) *Unit {
	u := &Unit{
		backend:  backend,
		assets:   assets,
		handles:  make(map[string]*loadState),
		variants: make(map[string]Spec),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// RegisterVariant registers a named primary-model variant. The first
// registered variant becomes active.
func (u *Unit) RegisterVariant(name string, spec Spec) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.variants[name] = spec
	if u.active == "" {
		u.active = name
	}
}

// SwitchModel atomically makes the named variant the active primary
// model, loading it first so a failed load leaves the previous variant
// in place. The replaced variant's handle stays cached until Close.
func (u *Unit) SwitchModel(ctx context.Context, name string) error {
	u.mu.Lock()
	spec, ok := u.variants[name]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("infer: unknown model variant %q", name)
	}
	if _, err := u.LoadModel(ctx, spec); err != nil {
		return err
	}
	u.mu.Lock()
	u.active = name
	u.mu.Unlock()
	return nil
}

// Active loads (if needed) and returns the active primary model.
func (u *Unit) Active(ctx context.Context) (*Handle, error) {
	u.mu.Lock()
	spec, ok := u.variants[u.active]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("infer: no model variant registered")
	}
	return u.LoadModel(ctx, spec)
}

// LoadModel returns a handle for the model, loading it on the first
// usable accelerator in preference order. Repeated calls for the same
// asset return the cached handle; a call that arrives while a load is
// in flight blocks until that load settles.
func (u *Unit) LoadModel(ctx context.Context, spec Spec) (*Handle, error) {
	u.mu.Lock()
	st, ok := u.handles[spec.Name]
	if !ok {
		st = &loadState{done: make(chan struct{})}
		u.handles[spec.Name] = st
		u.mu.Unlock()
		st.handle, st.err = u.load(ctx, spec)
		if st.err != nil {
			// Allow a later retry to attempt the load again.
			u.mu.Lock()
			delete(u.handles, spec.Name)
			u.mu.Unlock()
		}
		close(st.done)
		return st.handle, st.err
	}
	u.mu.Unlock()

	select {
	case <-st.done:
		return st.handle, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load resolves the asset and walks the accelerator preference order.
func (u *Unit) load(ctx context.Context, spec Spec) (*Handle, error) {
	data, err := u.assets.Load(ctx, spec.Name)
	if err != nil {
		return nil, &LoadError{Asset: spec.Name, Errs: []error{err}}
	}

	order := u.order
	if order == nil {
		order = PreferenceOrder(spec.Quantized)
	}

	var errs []error
	for _, accel := range order {
		sess, err := u.backend.Load(data, accel)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", accel, err))
			continue
		}
		return &Handle{spec: spec, accel: accel, session: sess}, nil
	}
	return nil, &LoadError{Asset: spec.Name, Errs: errs}
}

// Infer runs synchronous inference of the feature tensor against the
// model and returns a probability vector. Raw logits are passed through
// the logistic function; pre-activated outputs are returned as-is. No
// confidence filtering happens here.
func (u *Unit) Infer(h *Handle, t *melspec.Tensor) ([]float32, error) {
	if want, got := h.spec.inputLen(), len(t.Data); want > 0 && want != got {
		return nil, &InferError{
			Asset: h.spec.Name,
			Accel: h.accel,
			Err:   fmt.Errorf("input length %d, model expects %d", got, want),
		}
	}
	return u.inferRaw(h, t.Data)
}

// InferVector runs the model on a flat input vector (meta model path).
func (u *Unit) InferVector(h *Handle, input []float32) ([]float32, error) {
	if want := h.spec.inputLen(); want > 0 && want != len(input) {
		return nil, &InferError{
			Asset: h.spec.Name,
			Accel: h.accel,
			Err:   fmt.Errorf("input length %d, model expects %d", len(input), want),
		}
	}
	return u.inferRaw(h, input)
}

func (u *Unit) inferRaw(h *Handle, input []float32) ([]float32, error) {
	out, err := h.session.Run(input)
	if err != nil {
		return nil, &InferError{Asset: h.spec.Name, Accel: h.accel, Err: err}
	}
	if h.spec.RawLogits || looksLikeLogits(out) {
		applySigmoid(out)
	}
	return out, nil
}

// Close disposes every loaded handle. The unit must not be used after.
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var firstErr error
	for name, st := range u.handles {
		select {
		case <-st.done:
		default:
			continue // in-flight load owns its handle
		}
		if st.handle != nil {
			if err := st.handle.session.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(u.handles, name)
	}
	return firstErr
}
