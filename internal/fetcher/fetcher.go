// Package fetcher downloads remote archives over HTTP(S) or FTP and reads
// the tabular formats the pipelines ingest (CSV, XLSX, ZIP).
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures the fetcher returned by ForURL.
type Options struct {
	HTTP     HTTPOptions
	FTP      FTPOptions
	Progress bool
}

// ForURL returns a fetcher for the URL's scheme.
func ForURL(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	switch u.Scheme {
	case "http", "https":
		opts.HTTP.Progress = opts.HTTP.Progress || opts.Progress
		return NewHTTPFetcher(opts.HTTP), nil
	case "ftp":
		opts.FTP.Progress = opts.FTP.Progress || opts.Progress
		return NewFTPFetcher(opts.FTP), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// writeFile streams body into path through a temp file so a partial
// download never leaves a file that looks complete. size < 0 means unknown.
func writeFile(body io.Reader, path string, size int64, progress bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "create directory")
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	var w io.Writer = file
	if progress {
		bar := progressbar.DefaultBytes(size, "downloading "+filepath.Base(path))
		defer bar.Close() //nolint:errcheck
		w = io.MultiWriter(file, bar)
	}

	n, err := io.Copy(w, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "write file")
	}

	if err := os.Rename(tmp, path); err != nil {
		return n, eris.Wrap(err, "rename file")
	}
	return n, nil
}
