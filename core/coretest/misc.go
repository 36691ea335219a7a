package coretest

import (
	"math/rand"

	"cryptdrive.io/core"
)

// FakePRNG wraps math/rand with a fixed seed so scenario tests are
// reproducible.
type FakePRNG struct {
	r *rand.Rand
}

// NewFakePRNG returns a FakePRNG seeded deterministically.
func NewFakePRNG(seed int64) *FakePRNG {
	return &FakePRNG{r: rand.New(rand.NewSource(seed))}
}

func (p *FakePRNG) Intn(n int) int   { return p.r.Intn(n) }
func (p *FakePRNG) Int63() int64     { return p.r.Int63() }
func (p *FakePRNG) Float64() float64 { return p.r.Float64() }

var _ core.PRNG = (*FakePRNG)(nil)

// NoopApp is a core.AppCallbacks that records nothing and does nothing,
// for scenario tests that don't assert on embedder notifications.
type NoopApp struct{}

func (NoopApp) NotifyNodesUpdated(handles []core.NodeHandle)             {}
func (NoopApp) NotifyUsersUpdated(handles []core.UserHandle)             {}
func (NoopApp) NotifyDbCommit()                                          {}
func (NoopApp) NotifyTransferUpdate(upload core.UploadHandle)            {}
func (NoopApp) NotifyKeyModified(user core.UserHandle)                   {}
func (NoopApp) NotifyStorageStateChanged()                               {}
func (NoopApp) NotifySyncStateChanged(localRoot string)                  {}
func (NoopApp) NotifyNameAnomaly(path string, kind core.NameAnomalyKind) {}
func (NoopApp) NotifyReload()                                            {}

var _ core.AppCallbacks = (*NoopApp)(nil)

// RecordingApp is a core.AppCallbacks that appends every call's name to
// Events, for scenario tests that assert the embedder was notified.
type RecordingApp struct {
	Events []string
}

func (a *RecordingApp) NotifyNodesUpdated(handles []core.NodeHandle) {
	a.Events = append(a.Events, "nodes")
}
func (a *RecordingApp) NotifyUsersUpdated(handles []core.UserHandle) {
	a.Events = append(a.Events, "users")
}
func (a *RecordingApp) NotifyDbCommit() { a.Events = append(a.Events, "dbcommit") }
func (a *RecordingApp) NotifyTransferUpdate(upload core.UploadHandle) {
	a.Events = append(a.Events, "transfer")
}
func (a *RecordingApp) NotifyKeyModified(user core.UserHandle) {
	a.Events = append(a.Events, "keymodified")
}
func (a *RecordingApp) NotifyStorageStateChanged() { a.Events = append(a.Events, "storagestate") }
func (a *RecordingApp) NotifySyncStateChanged(localRoot string) {
	a.Events = append(a.Events, "syncstate")
}
func (a *RecordingApp) NotifyNameAnomaly(path string, kind core.NameAnomalyKind) {
	a.Events = append(a.Events, "nameanomaly")
}
func (a *RecordingApp) NotifyReload() { a.Events = append(a.Events, "reload") }

var _ core.AppCallbacks = (*RecordingApp)(nil)
