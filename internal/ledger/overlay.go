package ledger

// overlay buffers writes to one table of the committed state.
// Reads fall through to the base map unless the key was written or deleted.
type overlay[K comparable, V any] struct {
	base    map[K]V
	dirty   map[K]V
	deleted map[K]struct{}
}

func newOverlay[K comparable, V any](base map[K]V) *overlay[K, V] {
	return &overlay[K, V]{
		base:    base,
		dirty:   make(map[K]V),
		deleted: make(map[K]struct{}),
	}
}

func (o *overlay[K, V]) get(k K) (V, bool) {
	if _, gone := o.deleted[k]; gone {
		var zero V
		return zero, false
	}
	if v, ok := o.dirty[k]; ok {
		return v, true
	}
	v, ok := o.base[k]
	return v, ok
}

func (o *overlay[K, V]) put(k K, v V) {
	delete(o.deleted, k)
	o.dirty[k] = v
}

func (o *overlay[K, V]) del(k K) {
	delete(o.dirty, k)
	o.deleted[k] = struct{}{}
}

func (o *overlay[K, V]) commit() {
	for k := range o.deleted {
		delete(o.base, k)
	}
	for k, v := range o.dirty {
		o.base[k] = v
	}
}
