// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package call

import (
	"sync"

	"github.com/sipe-go/mediacall/pkg/errors"
)

// Registry indexes the active calls of one signed-in session by Call-ID.
// It is owned by the session handle and passed into every entry point;
// there is no process-global call table.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Add registers a call under its Call-ID. A duplicate Call-ID is an
// error.
func (r *Registry) Add(c *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return errors.ErrCallExists
	}
	r.calls[c.ID] = c
	return nil
}

// Get returns the call with the given Call-ID, or nil.
func (r *Registry) Get(callID string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[callID]
}

// Delete removes the call with the given Call-ID, if present.
func (r *Registry) Delete(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

// AudioCall returns the call that carries an "audio" stream, or nil.
// There is at most one.
func (r *Registry) AudioCall() *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.Stream("audio") != nil {
			return c
		}
	}
	return nil
}

// List returns a snapshot of all registered calls.
func (r *Registry) List() []*Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}

// Len reports the number of registered calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
