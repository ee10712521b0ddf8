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

package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CredentialCache stores MRAS credentials keyed by account URI so
// processes sharing a signed-in session pool do not each hit MRAS.
type CredentialCache interface {
	Get(ctx context.Context, key string) (*Credentials, bool)
	Put(ctx context.Context, key string, creds *Credentials)
}

type memoryCache struct {
	mu    sync.Mutex
	creds map[string]*Credentials
}

// NewMemoryCache returns the default in-process credential cache.
func NewMemoryCache() CredentialCache {
	return &memoryCache{creds: make(map[string]*Credentials)}
}

func (m *memoryCache) Get(_ context.Context, key string) (*Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[key]
	if !ok || time.Now().After(c.Expires) {
		return nil, false
	}
	return c, true
}

func (m *memoryCache) Put(_ context.Context, key string, creds *Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[key] = creds
}

type redisCache struct {
	rc *redis.Client
}

// NewRedisCache returns a credential cache backed by Redis. Entries
// expire with the credentials themselves.
func NewRedisCache(rc *redis.Client) CredentialCache {
	return &redisCache{rc: rc}
}

func redisKey(key string) string {
	return "mediacall:mras:" + key
}

func (r *redisCache) Get(ctx context.Context, key string) (*Credentials, bool) {
	data, err := r.rc.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, false
	}
	if time.Now().After(creds.Expires) {
		return nil, false
	}
	return &creds, true
}

func (r *redisCache) Put(ctx context.Context, key string, creds *Credentials) {
	data, err := json.Marshal(creds)
	if err != nil {
		return
	}
	ttl := time.Until(creds.Expires)
	if ttl <= 0 {
		return
	}
	r.rc.Set(ctx, redisKey(key), data, ttl)
}
