// Package presenter delivers engine status to whoever displays or mirrors it.
package presenter

import (
	"sync"

	"obdrelay/internal/models"
)

// Presenter receives push-only status updates from the engine and uploader.
// Implementations must not block for long; they are called from the
// collection and upload paths.
type Presenter interface {
	ConnectionChanged(state models.ConnectionState)
	SampleUpdated(sample models.VehicleSample)
	UploadFinished(result models.UploadResult)
}

// Nop discards every update.
type Nop struct{}

func (Nop) ConnectionChanged(models.ConnectionState) {}
func (Nop) SampleUpdated(models.VehicleSample)       {}
func (Nop) UploadFinished(models.UploadResult)       {}

// Fanout forwards updates to every registered presenter in order.
type Fanout struct {
	mu   sync.RWMutex
	list []Presenter
}

func NewFanout(ps ...Presenter) *Fanout {
	f := &Fanout{}
	for _, p := range ps {
		f.Add(p)
	}
	return f
}

// Add registers p. Nil presenters are ignored.
func (f *Fanout) Add(p Presenter) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, p)
}

func (f *Fanout) each(fn func(Presenter)) {
	f.mu.RLock()
	list := f.list
	f.mu.RUnlock()
	for _, p := range list {
		fn(p)
	}
}

func (f *Fanout) ConnectionChanged(state models.ConnectionState) {
	f.each(func(p Presenter) { p.ConnectionChanged(state) })
}

func (f *Fanout) SampleUpdated(sample models.VehicleSample) {
	f.each(func(p Presenter) { p.SampleUpdated(sample.Clone()) })
}

func (f *Fanout) UploadFinished(result models.UploadResult) {
	f.each(func(p Presenter) { p.UploadFinished(result) })
}
