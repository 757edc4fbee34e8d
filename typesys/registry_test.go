package typesys

import (
	"testing"
)

func TestTypeOfIsIdempotent(t *testing.T) {
	a := TypeOf[[]int32]()
	b := TypeOf[[]int32]()
	if a != b {
		t.Error("repeated TypeOf must return the same descriptor")
	}
}

func TestTypeOfPrimitives(t *testing.T) {
	tests := []struct {
		d    *Descriptor
		kind Kind
		sig  string
	}{
		{TypeOf[bool](), KindInt, "b"},
		{TypeOf[int8](), KindInt, "c"},
		{TypeOf[uint16](), KindInt, "W"},
		{TypeOf[int32](), KindInt, "i"},
		{TypeOf[uint64](), KindInt, "L"},
		{TypeOf[float32](), KindFloat, "f"},
		{TypeOf[float64](), KindFloat, "d"},
		{TypeOf[string](), KindString, "s"},
		{TypeOf[[]byte](), KindRaw, "r"},
	}
	for _, tt := range tests {
		if tt.d.Kind() != tt.kind {
			t.Errorf("kind = %s, want %s", tt.d.Kind(), tt.kind)
		}
		if tt.d.Signature() != tt.sig {
			t.Errorf("signature = %q, want %q", tt.d.Signature(), tt.sig)
		}
	}
}

func TestTypeOfComposite(t *testing.T) {
	d := TypeOf[map[string][]int32]()
	if d.Kind() != KindMap {
		t.Fatalf("kind = %s", d.Kind())
	}
	if got := d.Signature(); got != "{s[i]}" {
		t.Errorf("signature = %q, want {s[i]}", got)
	}
}

type sampleTuple struct {
	ID   uint32
	Name string
	Tags []string
}

func TestTypeOfStructIsTuple(t *testing.T) {
	d := TypeOf[sampleTuple]()
	if d.Kind() != KindTuple {
		t.Fatalf("kind = %s", d.Kind())
	}
	if got := d.Signature(); got != "(Is[s])" {
		t.Errorf("signature = %q, want (Is[s])", got)
	}
	names := d.FieldNames()
	if len(names) != 3 || names[0] != "ID" || names[2] != "Tags" {
		t.Errorf("field names = %v", names)
	}
}

type customString string

func TestNamedTypeKeepsOwnFingerprint(t *testing.T) {
	base := TypeOf[string]()
	named := TypeOf[customString]()
	if named.Kind() != KindString {
		t.Fatalf("kind = %s", named.Kind())
	}
	if named.Info().Equal(base.Info()) {
		t.Error("a named string type must carry its own fingerprint")
	}
	// Structurally compatible: conversion copies rather than borrows.
	v := NewString("payload")
	defer v.Destroy()
	res, owned := Convert(v, named)
	if !res.IsValid() || !owned {
		t.Fatal("string -> named string must copy")
	}
	if res.ToString() != "payload" {
		t.Errorf("copied payload = %q", res.ToString())
	}
	res.Destroy()
}

func TestFromGoToGoRoundTrip(t *testing.T) {
	in := sampleTuple{ID: 3, Name: "svc", Tags: []string{"a", "b"}}
	v := FromGo(in)
	defer v.Destroy()
	if v.Kind() != KindTuple {
		t.Fatalf("kind = %s", v.Kind())
	}
	rv, err := ToGo(v, TypeOf[sampleTuple]().Info().RT)
	if err != nil {
		t.Fatalf("ToGo: %v", err)
	}
	out := rv.Interface().(sampleTuple)
	if out.ID != 3 || out.Name != "svc" || len(out.Tags) != 2 || out.Tags[1] != "b" {
		t.Errorf("round trip = %+v", out)
	}
}

func TestSignatureParseRoundTrip(t *testing.T) {
	sigs := []string{"i", "s", "[i]", "{sl}", "(is[d])", "m", "r", "b", "o", "*i", "^s"}
	for _, sig := range sigs {
		d, err := ParseSignature(sig)
		if err != nil {
			t.Errorf("ParseSignature(%q): %v", sig, err)
			continue
		}
		if got := d.WireSignature(); got != sig {
			t.Errorf("ParseSignature(%q).WireSignature() = %q", sig, got)
		}
	}
	for _, bad := range []string{"", "[i", "{s}", "(", "q", "i]"} {
		if _, err := ParseSignature(bad); err == nil {
			t.Errorf("ParseSignature(%q) must fail", bad)
		}
	}
}
