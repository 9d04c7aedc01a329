package npm

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// packDirectory builds the gzipped tarball for a publish payload. Entries use
// npm's "package/" prefix and fixed modes/timestamps so the same directory
// contents always produce the same bytes.
func packDirectory(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr := &tar.Header{
			Name: "package/" + filepath.ToSlash(rel),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", dir)
	}

	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing tar writer")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "closing gzip writer")
	}
	return buf.Bytes(), nil
}
