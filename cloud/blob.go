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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
)

// Publish copies the given output files, which are paths relative to
// dir, to the bucket at bucketURL and returns the keys they were
// written to. Mosaic descriptions (".vrt") are published together with
// the tile files they reference.
func Publish(ctx context.Context, bucketURL, dir string, files []string) ([]string, error) {
	bucket, prefix, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	var keys []string
	for _, f := range files {
		expanded, err := expandVRT(dir, f)
		if err != nil {
			return keys, err
		}
		for _, rel := range expanded {
			data, err := os.ReadFile(filepath.Join(dir, rel))
			if err != nil {
				return keys, fmt.Errorf("cloud: publishing %s: %w", rel, err)
			}
			key := path.Join(prefix, filepath.ToSlash(rel))
			if err := writeBlob(ctx, bucket, key, data); err != nil {
				return keys, err
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Fetch returns the contents of the blob key in the bucket at bucketURL.
func Fetch(ctx context.Context, bucketURL, key string) ([]byte, error) {
	bucket, _, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	return readBlob(ctx, bucket, key)
}

// Clear deletes all blobs under the path of bucketURL, e.g. the outputs
// of an earlier run.
func Clear(ctx context.Context, bucketURL string) error {
	bucket, prefix, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	defer bucket.Close()
	if prefix != "" {
		prefix += "/"
	}
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cloud: listing blobs to delete: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if err = bucket.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("cloud: deleting blob %s: %w", obj.Key, err)
		}
	}
	return nil
}

// readBlob reads the given blob from the given bucket.
func readBlob(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	var b bytes.Buffer
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %w", key, err)
	}
	defer r.Close()
	if _, err = io.Copy(&b, r); err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %w", key, err)
	}
	return b.Bytes(), nil
}

// writeBlob writes the given data to the given bucket.
func writeBlob(ctx context.Context, bucket *blob.Bucket, key string, data []byte) error {
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %w", key, err)
	}
	if _, err = io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying blob %s: %w", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %w", key, err)
	}
	return nil
}

// expandVRT returns the given file plus the tile files in the directory
// of the same name if the file has the .vrt extension, and returns the
// given file otherwise.
func expandVRT(dir, filename string) ([]string, error) {
	o := []string{filename}
	if filepath.Ext(filename) != ".vrt" {
		return o, nil
	}
	tiles := strings.TrimSuffix(filename, ".vrt")
	entries, err := os.ReadDir(filepath.Join(dir, tiles))
	if os.IsNotExist(err) {
		return o, nil
	} else if err != nil {
		return nil, fmt.Errorf("cloud: listing tiles of %s: %w", filename, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			o = append(o, filepath.Join(tiles, e.Name()))
		}
	}
	return o, nil
}
