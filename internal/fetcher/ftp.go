package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Progress   bool
}

// FTPFetcher downloads files over FTP. The WorldPop mirror at
// ftp.worldpop.org serves the same tree as data.worldpop.org.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host:port, path and credentials; anonymous when the URL has none.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			t.password = pw
		}
	}
	return t, nil
}

// ftpConnReader closes both the response and the control connection.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
	size int64
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

func (f *FTPFetcher) open(ctx context.Context, ftpURL string) (*ftpConnReader, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.MaxRetries
	cfg.OnRetry = resilience.RetryLogger("fetcher.ftp", "retrieve")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*ftpConnReader, error) {
		zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

		conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "ftp dial")
		}

		if err := conn.Login(t.user, t.password); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "ftp login")
		}

		size, err := conn.FileSize(t.path)
		if err != nil {
			size = -1
		}

		resp, err := conn.Retr(t.path)
		if err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "ftp retrieve")
		}

		return &ftpConnReader{resp: resp, conn: conn, size: size}, nil
	})
}

// Download retrieves the file and returns a reader that owns the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	return f.open(ctx, ftpURL)
}

// DownloadToFile downloads the FTP URL to a local file. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := f.open(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	return writeFile(rc, path, rc.size, f.opts.Progress)
}
