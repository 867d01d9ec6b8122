// Package delivery streams download bytes from local disk, HTTP origins or
// S3 to the client without buffering whole objects.
package delivery

import (
	"context"
	"io"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// Stream is an open byte source. Size is -1 when unknown.
type Stream interface {
	io.ReadCloser
	Size() int64
}

// Source opens a classified Location. Implementations bind any network I/O
// to ctx so a cancelled request releases the upstream.
type Source interface {
	Open(ctx context.Context, loc catalog.Location) (Stream, error)
}

type sizedStream struct {
	io.ReadCloser
	size int64
}

func (s sizedStream) Size() int64 { return s.size }

// Router dispatches on the location scheme. A nil backend means that kind
// of locator is not configured.
type Router struct {
	Local Source
	HTTP  Source
	S3    Source
}

// Label names the backend that serves loc, for metrics and logs.
func Label(loc catalog.Location) string {
	switch loc.Scheme() {
	case "file":
		return "local"
	case "http", "https":
		return "http"
	case "s3":
		return "s3"
	}
	return "unknown"
}

func (r *Router) Open(ctx context.Context, loc catalog.Location) (Stream, error) {
	var src Source
	switch Label(loc) {
	case "local":
		src = r.Local
	case "http":
		src = r.HTTP
	case "s3":
		src = r.S3
	default:
		return nil, fault.New(fault.BadRequest, fault.InvalidLocator, "content location is invalid")
	}
	if src == nil {
		return nil, xerrors.Newf("no %s source configured", Label(loc))
	}
	return src.Open(ctx, loc)
}
