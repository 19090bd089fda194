package document

import (
	"errors"
	"testing"

	"github.com/danmuck/wsbridge/internal/testutil/testlog"
)

func TestDocumentKeepsInsertionOrder(t *testing.T) {
	testlog.Start(t)
	d := New().
		SetString("op", "publish").
		SetString("topic", "/chatter").
		SetBool("latch", false)
	d.SetString("op", "subscribe")

	keys := d.Keys()
	want := []string{"op", "topic", "latch"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key[%d] got=%q want=%q", i, keys[i], want[i])
		}
	}
	v, _ := d.Get("op")
	if s, _ := v.AsString(); s != "subscribe" {
		t.Fatalf("overwrite lost: %q", s)
	}

	d.Delete("topic")
	if d.Has("topic") || d.Len() != 2 {
		t.Fatalf("delete failed: %v", d.Keys())
	}
}

func TestNilDocumentIsEmpty(t *testing.T) {
	testlog.Start(t)
	var d *Document
	if d.Len() != 0 {
		t.Fatalf("nil document has entries")
	}
	if _, ok := d.Get("op"); ok {
		t.Fatalf("nil document returned a value")
	}
	d.Range(func(string, Value) bool {
		t.Fatalf("nil document ranged")
		return false
	})
	if !d.Equal(New()) {
		t.Fatalf("nil document should equal empty document")
	}
}

func TestValueAccessorsEnforceKind(t *testing.T) {
	testlog.Start(t)
	if _, err := NewInt(3).AsString(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := NewString("x").AsDocument(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := NewFloat(1.5).AsInt(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("fractional float must not convert to int")
	}
	if i, err := NewFloat(4).AsInt(); err != nil || i != 4 {
		t.Fatalf("integral float to int: %d %v", i, err)
	}

	raw := []byte{1, 2, 3}
	b := NewBytes(raw)
	raw[0] = 9
	got, err := b.AsBytes()
	if err != nil || got[0] != 1 {
		t.Fatalf("bytes value aliased its input: %v %v", got, err)
	}
}

func TestEqualTreatsNumbersNumerically(t *testing.T) {
	testlog.Start(t)
	a := New().Set("x", NewInt(2)).Set("y", NewArray(NewFloat(1.5), NewString("s")))
	b := New().Set("y", NewArray(NewFloat(1.5), NewString("s"))).Set("x", NewFloat(2))
	if !a.Equal(b) {
		t.Fatalf("expected documents to be equal")
	}
	b.Set("x", NewFloat(2.5))
	if a.Equal(b) {
		t.Fatalf("expected documents to differ")
	}
	if NewString("1").Equal(NewInt(1)) {
		t.Fatalf("string and int must differ")
	}
	if !NewDocument(nil).Equal(NewDocument(New())) {
		t.Fatalf("nil and empty embedded documents should be equal")
	}
}
