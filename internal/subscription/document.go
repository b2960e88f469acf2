package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

var errCorrupt = errors.New("document corrupt")

// document binds one named JSON document in a storage.Store.
//
// A missing document decodes as the zero value. At startup a document that
// fails to decode is treated as empty and logged; local state must never take
// the process down. Once running, memory is authoritative: see refresh.
type document[T any] struct {
	name  string
	store storage.Store
	log   logx.Logger

	// saveMu orders encode+write so the last mutation is the last write.
	saveMu sync.Mutex
	// dirty is set while the last write failed, so memory is newer than disk.
	dirty atomic.Bool
}

func newDocument[T any](name string, st storage.Store, log logx.Logger) *document[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &document[T]{name: name, store: st, log: log.With(logx.String("doc", name))}
}

func (d *document[T]) read(ctx context.Context) (T, error) {
	var zero T
	if d.store == nil {
		return zero, nil
	}
	b, err := d.store.Load(ctx, d.name)
	if errors.Is(err, storage.ErrNotFound) {
		return zero, nil
	}
	if err != nil {
		d.log.Warn("document load failed", logx.Err(err))
		return zero, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, fmt.Errorf("%w: %v (%d bytes)", errCorrupt, err, len(b))
	}
	return v, nil
}

// load returns the decoded document for the initial load. The error is
// non-nil only for storage failures.
func (d *document[T]) load(ctx context.Context) (T, error) {
	v, err := d.read(ctx)
	if errors.Is(err, errCorrupt) {
		d.log.Warn("document corrupt; treating as empty", logx.Err(err))
		var zero T
		return zero, nil
	}
	return v, err
}

// refresh re-reads the document for a running process. fresh is false when
// the caller must keep its in-memory state: a failed write is pending (it is
// retried instead) or the document no longer decodes.
func (d *document[T]) refresh(ctx context.Context, snapshot func() T) (v T, fresh bool, err error) {
	if d.dirty.Load() {
		if err := d.save(ctx, snapshot); err != nil {
			return v, false, err
		}
		d.log.Info("pending write flushed")
		return v, false, nil
	}
	v, err = d.read(ctx)
	switch {
	case errors.Is(err, errCorrupt):
		d.log.Warn("document corrupt; keeping in-memory state", logx.Err(err))
		return v, false, nil
	case err != nil:
		return v, false, err
	}
	return v, true, nil
}

// save encodes the value produced by snapshot and writes it. On failure the
// in-memory state stays authoritative and the document is marked dirty until
// a later write succeeds.
func (d *document[T]) save(ctx context.Context, snapshot func() T) error {
	if d.store == nil {
		return nil
	}
	// A mutation that already happened must reach disk even if the
	// request that caused it timed out.
	ctx = context.WithoutCancel(ctx)
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	b, err := json.MarshalIndent(snapshot(), "", "  ")
	if err == nil {
		err = d.store.Save(ctx, d.name, b)
	}
	if err != nil {
		d.dirty.Store(true)
		d.log.Warn("document save failed; keeping in-memory state", logx.Err(err))
		return err
	}
	d.dirty.Store(false)
	return nil
}
