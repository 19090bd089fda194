// Package document is the structured value exchanged between the wire
// serializers and the protocol codec.
//
// A Document is an ordered set of string keys mapping to tagged Values.
// Insertion order is kept so text encodings are deterministic; it carries no
// protocol meaning.
package document

// Document is an ordered, string-keyed set of values. The zero value and a nil
// *Document are both empty and safe to read.
type Document struct {
	keys   []string
	values map[string]Value
}

func New() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set stores v under key. Re-setting a key keeps its original position.
func (d *Document) Set(key string, v Value) *Document {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

func (d *Document) SetString(key, v string) *Document {
	return d.Set(key, NewString(v))
}

func (d *Document) SetBool(key string, v bool) *Document {
	return d.Set(key, NewBool(v))
}

func (d *Document) SetDocument(key string, v *Document) *Document {
	return d.Set(key, NewDocument(v))
}

// Get returns the value at key and whether it was present.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil || d.values == nil {
		return Value{}, false
	}
	v, ok := d.values[key]
	return v, ok
}

func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

func (d *Document) Delete(key string) {
	if d == nil || d.values == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (d *Document) Range(fn func(key string, v Value) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Equal reports whether both documents hold equal values under the same keys.
// Key order is ignored.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	equal := true
	d.Range(func(key string, v Value) bool {
		ov, ok := o.Get(key)
		if !ok || !v.Equal(ov) {
			equal = false
			return false
		}
		return true
	})
	return equal
}
