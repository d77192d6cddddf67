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

package cloud

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		"ndvi.nc":     "merged",
		"lc.vrt":      "<VRTDataset/>",
		"lc/0.nc":     "tile 0",
		"lc/1.nc":     "tile 1",
		"ignored.txt": "x",
	})
	bucketURL := "file://" + filepath.ToSlash(dst)
	keys, err := Publish(ctx, bucketURL, src, []string{"ndvi.nc", "lc.vrt"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ndvi.nc", "lc.vrt", "lc/0.nc", "lc/1.nc"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys: have %v, want %v", keys, want)
	}
	b, err := Fetch(ctx, bucketURL, "lc/1.nc")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "tile 1" {
		t.Errorf("have %q, want %q", b, "tile 1")
	}
	if _, err := Fetch(ctx, bucketURL, "ignored.txt"); err == nil {
		t.Error("unpublished file should not be in the bucket")
	}

	if err := Clear(ctx, bucketURL); err != nil {
		t.Fatal(err)
	}
	if _, err := Fetch(ctx, bucketURL, "ndvi.nc"); err == nil {
		t.Error("blob should have been deleted")
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	if _, _, err := OpenBucket(context.Background(), "ftp://host/path"); err == nil {
		t.Error("expected an error for an unsupported provider")
	}
}
