/*
Copyright © 2024 the tilerun authors.
This file is part of tilerun.

tilerun is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tilerun is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tilerun.  If not, see <http://www.gnu.org/licenses/>.
*/

package cube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spatialmodel/tilerun"
)

// Source is a data cube stored as a directory with one NetCDF file per
// layer. Access is "signed" for a limited time: Resign must be called
// before the signature expires.
type Source struct {
	Dir string

	// Layers restricts the source to the named layers. Nil means all
	// layers in Dir.
	Layers []string

	// Validity is how long a signature is valid. Zero means forever.
	Validity time.Duration

	mu     sync.Mutex
	signed time.Time
}

// NewSource returns a signed source for the cube in dir.
func NewSource(dir string, validity time.Duration) *Source {
	return &Source{Dir: dir, Validity: validity, signed: time.Now()}
}

// Resign renews the signature.
func (s *Source) Resign(ctx context.Context) error {
	if _, err := os.Stat(s.Dir); err != nil {
		return fmt.Errorf("cube: resigning: %w", err)
	}
	s.mu.Lock()
	s.signed = time.Now()
	s.mu.Unlock()
	return nil
}

// Clone implements tilerun.DataSource.
func (s *Source) Clone() tilerun.DataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Source{
		Dir:      s.Dir,
		Layers:   append([]string(nil), s.Layers...),
		Validity: s.Validity,
		signed:   s.signed,
	}
}

// narrow returns a copy of s restricted to layers.
func (s *Source) narrow(layers []string) *Source {
	o := s.Clone().(*Source)
	o.Layers = append([]string{}, layers...)
	return o
}

// Path returns the file of layer. It fails with a transient error if the
// signature has expired.
func (s *Source) Path(layer string) (string, error) {
	s.mu.Lock()
	expired := s.Validity > 0 && time.Since(s.signed) > s.Validity
	s.mu.Unlock()
	if expired {
		return "", tilerun.Transient(fmt.Errorf("cube: the signature of %s has expired", s.Dir))
	}
	if s.Layers != nil && !contains(s.Layers, layer) {
		return "", tilerun.Fatal(fmt.Errorf("cube: layer %q is not part of the data source", layer))
	}
	return filepath.Join(s.Dir, layer+".nc"), nil
}

// Available lists the layers stored in the cube directory.
func (s *Source) Available() ([]string, error) {
	m, err := filepath.Glob(filepath.Join(s.Dir, "*.nc"))
	if err != nil {
		return nil, fmt.Errorf("cube: %w", err)
	}
	o := make([]string, len(m))
	for i, p := range m {
		o[i] = strings.TrimSuffix(filepath.Base(p), ".nc")
	}
	sort.Strings(o)
	return o, nil
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
