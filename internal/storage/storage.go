// Package storage holds the staged-file store: the place uploaded payloads
// live between staging and retrieval. Two implementations are provided, a
// local directory (Disk) and an S3-compatible bucket (S3Store).
//
// Every Store must treat Delete of a missing object as success; callers rely
// on that to delete file and row together from several racing paths.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotExist is returned by Open when the object is absent.
	ErrNotExist = errors.New("storage: object does not exist")
	// ErrTooLarge is returned by Put when the stream exceeds the size cap.
	// Nothing is left behind in that case.
	ErrTooLarge = errors.New("storage: object exceeds size limit")
	// ErrInvalidKey rejects keys that could escape the store namespace.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store is the file storage collaborator used by the transmission service.
type Store interface {
	// Put streams r into key and returns the number of bytes written.
	// A maxSize > 0 caps the object; exceeding it yields ErrTooLarge.
	Put(ctx context.Context, key string, r io.Reader, maxSize int64) (int64, error)
	// Open returns a reader for key and its size.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// limitedCopy copies at most maxSize bytes from r into w. It reads one byte
// past the cap so an exact-size stream is accepted and a larger one is not.
func limitedCopy(ctx context.Context, w io.Writer, r io.Reader, maxSize int64) (int64, error) {
	src := io.Reader(ctxReader{ctx: ctx, r: r})
	if maxSize > 0 {
		src = io.LimitReader(src, maxSize+1)
	}
	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}
	if maxSize > 0 && n > maxSize {
		return n, ErrTooLarge
	}
	return n, nil
}
