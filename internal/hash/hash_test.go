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

package hash

import (
	"math"
	"testing"
)

type named string

func (n named) String() string { return string(n) }

func TestHash(t *testing.T) {
	a := map[string]interface{}{"a": 1.0, "b": []interface{}{"x", math.NaN()}, "c": map[string]interface{}{"d": true}}
	b := map[string]interface{}{"c": map[string]interface{}{"d": true}, "b": []interface{}{"x", math.NaN()}, "a": 1.0}
	for i := 0; i < 10; i++ {
		if Hash(a, 3) != Hash(b, 3) {
			t.Fatal("equal maps have different hashes")
		}
	}
	if Hash(a, 3) == Hash(a, 4) {
		t.Error("different objects have the same hash")
	}
	if h := Hash(named("key")); h != "key" {
		t.Errorf("have %q, want %q", h, "key")
	}
	if len(Hash(1)) != 32 {
		t.Errorf("hash %q should have 32 hex digits", Hash(1))
	}
}
