/*
Copyright © 2020 the DivClean authors.
This file is part of DivClean.

DivClean is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

DivClean is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with DivClean.  If not, see <http://www.gnu.org/licenses/>.
*/

package divclean

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"
)

// Params is a table of named parameters belonging to one package.
// Values are converted on read, so a value set from a configuration file
// as a string or integer can be read back as a float.
type Params struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// NewParams returns an empty table.
func NewParams() *Params {
	return &Params{m: make(map[string]interface{})}
}

// Add sets key to v, replacing any previous value.
func (p *Params) Add(key string, v interface{}) {
	p.mu.Lock()
	p.m[key] = v
	p.mu.Unlock()
}

// AddIfAbsent sets key to v only if key has no value yet, and reports
// whether it did.
func (p *Params) AddIfAbsent(key string, v interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.m[key]; ok {
		return false
	}
	p.m[key] = v
	return true
}

// Has reports whether key has a value.
func (p *Params) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.m[key]
	return ok
}

func (p *Params) get(key string) (interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[key]
	if !ok {
		return nil, fmt.Errorf("divclean: parameter %q is not set", key)
	}
	return v, nil
}

// Float returns key as a float64.
func (p *Params) Float(key string) (float64, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("divclean: parameter %q: %v", key, err)
	}
	return f, nil
}

// Int returns key as an int.
func (p *Params) Int(key string) (int, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("divclean: parameter %q: %v", key, err)
	}
	return i, nil
}

// Bool returns key as a bool.
func (p *Params) Bool(key string) (bool, error) {
	v, err := p.get(key)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("divclean: parameter %q: %v", key, err)
	}
	return b, nil
}

// FloatOr returns key as a float64, or def if key is not set.
func (p *Params) FloatOr(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Float(key)
}

// Map returns a copy of the table.
func (p *Params) Map() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]interface{}, len(p.m))
	for k, v := range p.m {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p *Params) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
