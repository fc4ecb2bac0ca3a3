// Package feeds turns external files and HTTP endpoints into dataset
// snapshots. Each source feeds exactly one dataset kind and is always applied
// as a wholesale Replace, so a failed load leaves the previous snapshot in
// place.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"argus/core"
	"argus/util"
)

var (
	// ErrMissingLocation means a source has neither a path nor a URL
	ErrMissingLocation = errors.New("feed source needs a path or a URL")
	// ErrAmbiguousLocation means a source has both a path and a URL
	ErrAmbiguousLocation = errors.New("feed source cannot have both a path and a URL")
	// ErrUnsupportedKind means no decoder exists for the dataset type
	ErrUnsupportedKind = errors.New("no feed decoder for dataset type")
	// ErrAuthFailed is returned for 401 and 403 responses
	ErrAuthFailed = errors.New("feed authentication failed")
)

// Source describes where the contents of one dataset come from
type Source struct {
	Kind core.DatasetKind
	// Path is a local file
	Path string
	// URL is fetched with GET
	URL string
	// Headers are added to HTTP requests (API keys, bearer tokens)
	Headers map[string]string
	// Delimiter separates CSV columns; zero means ','
	Delimiter rune
	// SkipHeader drops the first CSV record
	SkipHeader bool
	// Schedule is a cron expression for periodic refresh; empty loads once
	Schedule string
}

// Location returns the path or URL of the source
func (s Source) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// Validate checks that the source can be loaded
func (s Source) Validate() error {
	switch {
	case s.Path == "" && s.URL == "":
		return ErrMissingLocation
	case s.Path != "" && s.URL != "":
		return ErrAmbiguousLocation
	}
	switch s.Kind.Type {
	case core.DatasetRuleCatalog, 0:
		return fmt.Errorf("%s: %w", s.Kind, ErrUnsupportedKind)
	}
	if !s.Kind.Type.IsValid() {
		return fmt.Errorf("%s: %w", s.Kind, ErrUnsupportedKind)
	}
	if s.Path != "" {
		return util.CheckFilePath(s.Path)
	}
	return nil
}

// open returns a reader over the source contents
func (l *Loader) open(ctx context.Context, src Source) (io.ReadCloser, error) {
	if src.URL == "" {
		path, err := util.CleanFilePath(src.Path, false)
		if err != nil {
			return nil, err
		}
		return os.Open(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return resp.Body, nil
}
