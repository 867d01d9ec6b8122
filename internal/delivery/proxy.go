package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

type Outcome string

const (
	Completed  Outcome = "completed"
	Aborted    Outcome = "aborted"
	ClientGone Outcome = "client_gone"
	NotStarted Outcome = "not_started"
)

// Recorder receives stream accounting. *metrics.ServerMetrics implements it.
type Recorder interface {
	AddDownloadBytes(source string, n int64)
	IncUpstreamFailure(source string)
	IncStreamOutcome(source, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AddDownloadBytes(string, int64)   {}
func (nopRecorder) IncUpstreamFailure(string)        {}
func (nopRecorder) IncStreamOutcome(string, string) {}

// Result describes what reached the client.
type Result struct {
	Outcome Outcome
	Bytes   int64
	// Committed is true once the status line has been written; after
	// that only the connection can signal failure.
	Committed bool
}

// Proxy writes a Stream to an http.ResponseWriter.
type Proxy struct {
	Source    Source
	Recorder  Recorder
	ChunkSize int
}

const contentType = "application/zip"

// Disposition returns the attachment header value for a filename stem. The
// stem must be a valid slug; anything else falls back to "download".
func Disposition(stem string) string {
	if !catalog.ValidSlug(stem) {
		stem = "download"
	}
	return `attachment; filename="` + stem + `.zip"`
}

func (p *Proxy) recorder() Recorder {
	if p.Recorder == nil {
		return nopRecorder{}
	}
	return p.Recorder
}

// Serve opens loc and streams it. Open failures return before anything is
// written, so the caller can still send an error status. A failure after
// Committed is set cannot change the status; the caller must abort the
// connection.
func (p *Proxy) Serve(ctx context.Context, w http.ResponseWriter, loc catalog.Location, stem string) (Result, error) {
	label := Label(loc)
	rec := p.recorder()

	ctx, span := otel.Tracer("careerbooks/delivery").Start(ctx, "download.stream",
		trace.WithAttributes(attribute.String("download.source", label)))
	defer span.End()

	src, err := p.Source.Open(ctx, loc)
	if err != nil {
		if isUpstream(err) {
			rec.IncUpstreamFailure(label)
		}
		rec.IncStreamOutcome(label, string(NotStarted))
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return Result{Outcome: NotStarted}, err
	}
	defer src.Close()

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", Disposition(stem))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	size := src.Size()
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	res := Result{Committed: true}
	rc := http.NewResponseController(w)
	pump := NewPump(src, p.ChunkSize)

stream:
	for {
		chunk, rerr := pump.Next(ctx)
		if rerr != nil {
			switch {
			case errors.Is(rerr, io.EOF):
				if size >= 0 && res.Bytes != size {
					err = upstreamFailure(xerrors.Newf("upstream ended after %d of %d bytes", res.Bytes, size))
					res.Outcome = Aborted
				} else {
					res.Outcome = Completed
				}
			case ctx.Err() != nil:
				res.Outcome = ClientGone
				err = ctx.Err()
			default:
				res.Outcome = Aborted
				err = upstreamFailure(xerrors.Wrap(rerr, "read upstream"))
			}
			break stream
		}
		n, werr := w.Write(chunk)
		res.Bytes += int64(n)
		if werr != nil {
			res.Outcome = ClientGone
			err = xerrors.Wrap(werr, "write client")
			break stream
		}
		if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
			res.Outcome = ClientGone
			err = xerrors.Wrap(ferr, "flush client")
			break stream
		}
	}

	rec.AddDownloadBytes(label, res.Bytes)
	rec.IncStreamOutcome(label, string(res.Outcome))
	if res.Outcome == Aborted {
		rec.IncUpstreamFailure(label)
	}
	span.SetAttributes(
		attribute.Int64("download.bytes", res.Bytes),
		attribute.String("download.outcome", string(res.Outcome)),
	)
	if res.Outcome != Completed {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Outcome))
		return res, err
	}
	return res, nil
}

func isUpstream(err error) bool { return fault.KindOf(err) == fault.BadGateway }
