package transfer

import "time"

// Direction tells the executor which way bytes flow for a request.
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// Request is one object/file pair to move.
type Request struct {
	Direction Direction
	Bucket    string
	Key       string
	LocalPath string
}

// DownloadPair names an object and the local path it is written to.
type DownloadPair struct {
	Key       string `json:"key" yaml:"key"`
	LocalPath string `json:"local_path" yaml:"local_path"`
}

// UploadPair names a local file and the key it is stored under.
type UploadPair struct {
	LocalPath string `json:"local_path" yaml:"local_path"`
	Key       string `json:"key" yaml:"key"`
}

// Outcome is the resolved result of exactly one Request.
type Outcome struct {
	Request  Request
	Bytes    int64
	Duration time.Duration
	Err      error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Identifier returns the string recorded in a BatchResult for this outcome.
// Successes are named by the local path; failures by whichever side the
// caller named the item with: the key for downloads, the local path for uploads.
func (o Outcome) Identifier() string {
	if o.Succeeded() {
		return o.Request.LocalPath
	}

	if o.Request.Direction == Upload {
		return o.Request.LocalPath
	}

	return o.Request.Key
}

func downloadRequests(bucket string, pairs []DownloadPair) []Request {
	reqs := make([]Request, 0, len(pairs))
	for _, p := range pairs {
		reqs = append(reqs, Request{Direction: Download, Bucket: bucket, Key: p.Key, LocalPath: p.LocalPath})
	}

	return reqs
}

func uploadRequests(bucket string, pairs []UploadPair) []Request {
	reqs := make([]Request, 0, len(pairs))
	for _, p := range pairs {
		reqs = append(reqs, Request{Direction: Upload, Bucket: bucket, Key: p.Key, LocalPath: p.LocalPath})
	}

	return reqs
}
