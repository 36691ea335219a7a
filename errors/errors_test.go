// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"io"
	"testing"

	"cryptdrive.io/core"
)

func TestMarshal(t *testing.T) {
	item := "node:AAAAAAAAAA"
	user := core.UserName("joe@blow.com")
	err := Str("network unreachable")

	// Single error. No user is set, so we will have a zero-length field inside.
	e1 := E(item, "errors.Get", IO, err)

	// Nested error.
	e2 := E(item, user, "errors.Read", Other, e1)

	b := MarshalError(e2)
	e3 := UnmarshalError(b)

	in := e2.(*Error)
	out := e3.(*Error)
	if in.Item != out.Item {
		t.Errorf("expected Item %q; got %q", in.Item, out.Item)
	}
	if in.User != out.User {
		t.Errorf("expected User %q; got %q", in.User, out.User)
	}
	if in.Op != out.Op {
		t.Errorf("expected Op %q; got %q", in.Op, out.Op)
	}
	if in.Kind != out.Kind {
		t.Errorf("expected kind %d; got %d", in.Kind, out.Kind)
	}
	if in.Err.Error() != out.Err.Error() {
		t.Errorf("expected Err %q; got %q", in.Err, out.Err)
	}
}

func TestSeparator(t *testing.T) {
	defer func(prev string) {
		Separator = prev
	}(Separator)
	Separator = ":: "

	item := "node:AAAAAAAAAA"
	user := core.UserName("joe@blow.com")
	err := Str("network unreachable")

	e1 := E(item, "errors.Get", IO, err)
	e2 := E(item, user, "errors.Read", Other, e1)

	want := "node:AAAAAAAAAA, user joe@blow.com: errors.Read: I/O error:: errors.Get: network unreachable"
	if e2.Error() != want {
		t.Errorf("expected %q; got %q", want, e2)
	}
}

func TestDoesNotChangePreviousError(t *testing.T) {
	err := E(Permission)
	err2 := E("I will NOT modify err", err)

	expected := "I will NOT modify err: permission denied"
	if err2.Error() != expected {
		t.Fatalf("Expected %q, got %q", expected, err2)
	}
	kind := err.(*Error).Kind
	if kind != Permission {
		t.Fatalf("Expected kind %v, got %v", Permission, kind)
	}
}

func TestNoArgs(t *testing.T) {
	if E() != nil {
		t.Fatal("E() with no args should return nil")
	}
}

func TestMatch(t *testing.T) {
	err := E("keyengine.ApplyKey", CryptoKind, Str("fingerprint mismatch"))
	if !Match(CryptoKind, err) {
		t.Errorf("Match(CryptoKind, err) = false, want true")
	}
	if Match(Quota, err) {
		t.Errorf("Match(Quota, err) = true, want false")
	}
	if Match(CryptoKind, io.EOF) {
		t.Errorf("Match on a non-*Error should be false")
	}

	// Nested: kind lives on the wrapped error.
	inner := E(Throttling, Str("-3"))
	outer := E("rpcbatch.dispatch", inner)
	if !Match(Throttling, outer) {
		t.Errorf("Match should look through nested errors")
	}
}
