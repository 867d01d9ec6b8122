package delivery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// LocalSource serves files beneath Root. Paths are expected to come from
// catalog.Locate. Open resolves them through an os.Root, so symlinks that
// leave Root are refused as well as lexical escapes.
type LocalSource struct {
	Root string
}

func missing(err error) error {
	return fault.Wrap(err, fault.NotFound, fault.MissingLocalFile, "file not available")
}

func invalidPath() error {
	return fault.New(fault.BadRequest, fault.InvalidLocator, "content location is invalid")
}

func (s *LocalSource) Open(_ context.Context, loc catalog.Location) (Stream, error) {
	if loc.Kind != catalog.KindLocal || loc.Path == "" {
		return nil, xerrors.New("local source given a non-local location")
	}
	absRoot, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, xerrors.Wrap(err, "resolve storage root")
	}
	rel, err := filepath.Rel(absRoot, loc.Path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, invalidPath()
	}

	root, err := os.OpenRoot(absRoot)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open storage root %s", absRoot)
	}
	// files opened from root stay valid after it is closed
	defer root.Close()

	f, err := root.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, missing(err)
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s beneath storage root", rel)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Wrapf(err, "stat %s", loc.Path)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, missing(xerrors.Newf("%s is not a regular file", loc.Path))
	}
	return sizedStream{ReadCloser: f, size: st.Size()}, nil
}
