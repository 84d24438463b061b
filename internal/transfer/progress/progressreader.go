package progress

import (
	"errors"
	"io"
)

// Reader wraps an io.Reader and reports progress via a callback.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     func(read int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
	readErr        error
}

// NewReader reports through cb every interval bytes and once when the
// read crosses 5% of total. cb may be nil.
func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.shouldReport(int64(n)) {
			if pr.OnProgress != nil {
				pr.OnProgress(pr.totalRead, pr.Total)
			}

			pr.lastReport = 0
		}
	}

	if err != nil && !errors.Is(err, io.EOF) {
		pr.readErr = err
	}

	return n, err
}

func (pr *Reader) shouldReport(n int64) bool {
	if pr.reportInterval > 0 && pr.lastReport >= pr.reportInterval {
		return true
	}

	return pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && (pr.totalRead-n)*100/pr.Total < 5
}

// BytesRead is the cumulative number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

// ReadErr is the last non-EOF error returned by the wrapped reader, so callers
// of io.Copy can tell a failing source from a failing destination.
func (pr *Reader) ReadErr() error {
	return pr.readErr
}
