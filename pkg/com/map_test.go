package com

import (
	"sync/atomic"
	"testing"
)

type testClient struct {
	id Uid
	c  int32
}

func (t *testClient) Id() Uid      { return t.id }
func (t *testClient) Disconnect()  {}
func (t *testClient) change(n int) { atomic.AddInt32(&t.c, int32(n)) }

func TestPointerValue(t *testing.T) {
	m := NewNetMap[Uid, *testClient]()
	c := testClient{id: NewUid()}
	m.Add(&c)
	fc, err := m.FindBy(func(x *testClient) bool { return x.id == c.id })
	if err != nil {
		t.Fatalf("no client in the map")
	}
	c.change(100)
	fc2, _ := m.Find(c.id)

	if c.c != fc.c || c.c != fc2.c {
		t.Errorf("not expected change, o: %v != %v != %v", c.c, fc.c, fc2.c)
	}
}

func TestMapFind(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)

	if v, err := m.Find("a"); err != nil || v != 1 {
		t.Errorf("expected 1, got %v, %v", v, err)
	}
	if _, err := m.Find("z"); err == nil {
		t.Errorf("expected not found")
	}
	// empty keys are never stored
	if _, err := m.Find(""); err == nil {
		t.Errorf("expected not found for the empty key")
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 elements, got %v", m.Len())
	}
	m.RemoveByKey("a")
	if m.Has("a") {
		t.Errorf("expected a to be removed")
	}
}

func TestUidFrom(t *testing.T) {
	id := NewUid()
	if back := UidFrom(id.String()); back != id {
		t.Errorf("expected %v, got %v", id, back)
	}
	if UidFrom("not-an-id") != NilUid {
		t.Errorf("expected nil uid for garbage")
	}
}
