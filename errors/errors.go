// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the flat error-kind taxonomy used across the
// engine (§7 of the design). It is grounded on the teacher's errors
// package: the same builder-style E function and Kind enum, retargeted
// from upspin.PathName/upspin.UserName to this module's core.NodeHandle-
// oriented identifiers and extended with the throttling/quota/session/
// crypto kinds §7 names that the teacher's file-oriented Kind list lacks.
package errors

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"

	"cryptdrive.io/core"
	"cryptdrive.io/log"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Item identifies the entity being accessed: a node handle, a
	// share handle, a local path, or any other short identifier
	// rendered as a string.
	Item string
	// User is the account attempting the operation.
	User core.UserName
	// Op is the operation being performed, usually the name of the
	// method being invoked (Get, Put, etc.). It should not contain an
	// at sign @.
	Op string
	// Kind is the class of error, such as permission failure,
	// or Other if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error
}

var (
	_       error                      = (*Error)(nil)
	_       encoding.BinaryUnmarshaler = (*Error)(nil)
	_       encoding.BinaryMarshaler   = (*Error)(nil)
	zeroErr Error
)

// Separator is the string used to separate nested errors. By
// default, to make errors easier on the eye, nested errors are
// indented on a new line. A server may instead choose to keep each
// error on a single line by modifying the separator string, perhaps
// to ":: ".
var Separator = ":\n\t"

// Kind defines the kind of error this is, mostly for use by systems
// that must act differently depending on the error, such as the
// per-subsystem retry policies of §7.
type Kind uint8

// Kinds of errors, extending the teacher's file/db-oriented set with the
// taxonomy rows of §7 that have no prior analogue: Transport, Throttling,
// Quota, SessionKind, CryptoKind, FatalIntegrity.
const (
	Other      Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid                // Invalid operation for this type of item.
	Permission             // Permission denied.
	Syntax                 // Ill-formed argument such as invalid file name.
	IO                     // External I/O error such as network failure.
	Exist                  // Item already exists.
	NotExist               // Item does not exist.
	IsDir                  // Item is a directory.
	NotDir                 // Item is not a directory.
	NotEmpty               // Directory not empty.

	Transport      // Connectivity lost, SSL pin failure, 5xx: retry with capped backoff.
	Throttling     // API_EAGAIN/API_ERATELIMIT/-3/-4: retry with backoff, not surfaced as error.
	Quota          // EOVERQUOTA/EPAYWALL: pause affected transfers, surface storage state.
	SessionKind    // ESID/EBLOCKED: terminate session state, do not retry.
	CryptoKind     // key-modified/signature-mismatch: preserve tracked key, raise callback.
	FatalIntegrity // node-inconsistency/cache corruption: reload(), emit telemetry.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case Permission:
		return "permission denied"
	case Syntax:
		return "syntax error"
	case IO:
		return "I/O error"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case IsDir:
		return "item is a directory"
	case NotDir:
		return "item is not a directory"
	case NotEmpty:
		return "directory not empty"
	case Transport:
		return "transport error"
	case Throttling:
		return "throttled"
	case Quota:
		return "quota exceeded"
	case SessionKind:
		return "session invalid"
	case CryptoKind:
		return "cryptographic error"
	case FatalIntegrity:
		return "fatal integrity error"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	core.NodeHandle, core.ShareHandle, core.UploadHandle, ... (via Stringer)
//		Rendered into the Item field.
//	string
//		If Op is not yet set and the string looks like an operation
//		name (it contains a '.' and no space, ':' or '/'), it becomes
//		Op; otherwise it becomes Item.
//	core.UserName
//		The user attempting the operation.
//	errors.Kind
//		The class of error, such as permission failure.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case core.UserName:
			e.User = arg
		case Kind:
			e.Kind = arg
		case fmt.Stringer:
			e.Item = arg.String()
		case string:
			if e.Op == "" && looksLikeOp(arg) {
				e.Op = arg
				continue
			}
			e.Item = arg
		case *Error:
			// Make a copy
			e.Err = &Error{
				Item: arg.Item,
				User: arg.User,
				Op:   arg.Op,
				Kind: arg.Kind,
				Err:  arg.Err,
			}
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplications
	// so the message won't contain the same kind, item or user name
	// twice.
	if prev.Item == e.Item {
		prev.Item = ""
	}
	if prev.User == e.User {
		prev.User = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// looksLikeOp is a heuristic distinguishing "pkg.Method" operation names
// (always contain a dot, never a colon or slash) from free-form item
// identifiers passed as plain strings.
func looksLikeOp(s string) bool {
	return strings.Contains(s, ".") && !strings.ContainsAny(s, " :/")
}

// Match reports whether err is an *Error of the given kind (or wraps one).
func Match(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind == kind {
		return true
	}
	return Match(kind, e.Err)
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Item != "" {
		b.WriteString(e.Item)
	}
	if e.User != "" {
		pad(b, ", ")
		b.WriteString("user ")
		b.WriteString(string(e.User))
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		// Indent on new line if we are cascading non-empty nested errors.
		if prevErr, ok := e.Err.(*Error); ok {
			if *prevErr != zeroErr {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Recreate the errors.New functionality of the standard Go errors package
// so we can create simple text errors when needed.

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

// errorString is a trivial implementation of error.
type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows clients to import only
// this package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// MarshalAppend marshals err into a byte slice. The result is appended to b,
// which may be nil.
// It returns the argument slice unchanged if the error is nil.
func (e *Error) MarshalAppend(b []byte) []byte {
	if e == nil {
		return b
	}
	b = appendString(b, e.Item)
	b = appendString(b, string(e.User))
	b = appendString(b, e.Op)
	var tmp [16]byte // For use by PutVarint.
	N := binary.PutVarint(tmp[:], int64(e.Kind))
	b = append(b, tmp[:N]...)
	b = MarshalErrorAppend(e.Err, b)
	return b
}

// MarshalBinary marshals its receiver into a byte slice, which it returns.
// It returns nil if the error is nil. The returned error is always nil.
func (e *Error) MarshalBinary() ([]byte, error) {
	return e.MarshalAppend(nil), nil
}

// MarshalErrorAppend marshals an arbitrary error into a byte slice.
// The result is appended to b, which may be nil.
// It returns the argument slice unchanged if the error is nil.
// If the error is not an *Error, it just records the result of err.Error().
// Otherwise it encodes the full Error struct.
func MarshalErrorAppend(err error, b []byte) []byte {
	if err == nil {
		return b
	}
	if e, ok := err.(*Error); ok {
		// This is an errors.Error. Mark it as such.
		b = append(b, 'E')
		return e.MarshalAppend(b)
	}
	// Ordinary error.
	b = append(b, 'e')
	b = appendString(b, err.Error())
	return b

}

// MarshalError marshals an arbitrary error and returns the byte slice.
// If the error is nil, it returns nil.
func MarshalError(err error) []byte {
	return MarshalErrorAppend(err, nil)
}

// UnmarshalBinary unmarshals the byte slice into the receiver, which must be non-nil.
// The returned error is always nil.
func (e *Error) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	data, b := getBytes(b)
	if data != nil {
		e.Item = string(data)
	}
	data, b = getBytes(b)
	if data != nil {
		e.User = core.UserName(data)
	}
	data, b = getBytes(b)
	if data != nil {
		e.Op = string(data)
	}
	k, N := binary.Varint(b)
	e.Kind = Kind(k)
	b = b[N:]
	e.Err = UnmarshalError(b)
	return nil
}

// UnmarshalError unmarshals the byte slice into an error value.
// The byte slice must have been created by MarshalError or
// MarshalErrorAppend.
func UnmarshalError(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	code := b[0]
	b = b[1:]
	switch code {
	case 'e':
		var data []byte
		data, b = getBytes(b)
		if len(b) != 0 {
			log.Printf("Unmarshal error: trailing bytes")
		}
		return Str(string(data))
	case 'E':
		var err Error
		err.UnmarshalBinary(b)
		return &err
	default:
		log.Printf("Unmarshal error: corrupt data %q", b)
		return Str(string(b))
	}
}

func appendString(b []byte, str string) []byte {
	var tmp [16]byte // For use by PutUvarint.
	N := binary.PutUvarint(tmp[:], uint64(len(str)))
	b = append(b, tmp[:N]...)
	b = append(b, str...)
	return b
}

// getBytes unmarshals the byte slice at b (uvarint count followed by bytes)
// and returns the slice followed by the remaining bytes.
// If there is insufficient data, both return values will be nil.
func getBytes(b []byte) (data, remaining []byte) {
	u, N := binary.Uvarint(b)
	if len(b) < N+int(u) {
		log.Printf("Unmarshal error: bad encoding")
		return nil, nil
	}
	if N == 0 {
		log.Printf("Unmarshal error: bad encoding")
		return nil, b
	}
	return b[N : N+int(u)], b[N+int(u):]
}
