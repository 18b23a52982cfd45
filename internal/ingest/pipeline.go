package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/storefront/pkg/errors"
	"github.com/charlesng35/storefront/pkg/logger"
	"github.com/charlesng35/storefront/pkg/metrics"
)

// maxValueBytes caps non-file form values so a hostile part cannot balloon memory.
const maxValueBytes = 1 << 20

// Options configures the upload pipeline.
type Options struct {
	// MaxFileBytes is the per-file size limit. Reading a file stops as soon
	// as the limit is crossed.
	MaxFileBytes int64
	// MaxFiles bounds how many file parts a single request may carry.
	MaxFiles int
	// AllowedTypes is the content-type allow-list. Entries are either exact
	// ("image/png") or a wildcard subtype ("image/*").
	AllowedTypes []string
	// SpoolDir is where staged files are written. Defaults to os.TempDir().
	SpoolDir string
}

// StagedFile is a fully received upload spooled to local disk. The checksum
// and byte count are computed while streaming, so the values are trustworthy
// even though the bytes never lived in memory at once.
type StagedFile struct {
	FieldName   string
	FileName    string
	ContentType string
	ByteSize    int64
	Checksum    string

	path string
}

// Open returns a reader over the staged bytes. Callers own the returned
// ReadCloser.
func (f *StagedFile) Open() (io.ReadCloser, error) {
	if f == nil || f.path == "" {
		return nil, errors.New("ingest: staged file already discarded")
	}
	return os.Open(f.path)
}

// Discard removes the spooled bytes from disk. Safe to call multiple times.
func (f *StagedFile) Discard() error {
	if f == nil || f.path == "" {
		return nil
	}
	err := os.Remove(f.path)
	f.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Form is the result of consuming a multipart request.
type Form struct {
	Values map[string][]string
	Files  []*StagedFile
}

// Value returns the first value for a field, or "".
func (f *Form) Value(key string) string {
	if f == nil {
		return ""
	}
	values := f.Values[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Discard removes every staged file. Callers should defer this as soon as
// Consume succeeds.
func (f *Form) Discard() {
	if f == nil {
		return
	}
	for _, file := range f.Files {
		_ = file.Discard()
	}
}

// Pipeline reads multipart bodies incrementally, enforcing limits before
// bytes are accepted.
type Pipeline struct {
	opts Options
	log  *zap.Logger
}

// NewPipeline builds a Pipeline from options, applying defaults for unset
// fields.
func NewPipeline(opts Options) *Pipeline {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 10 << 20
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 10
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	return &Pipeline{
		opts: opts,
		log:  logger.WithModule("ingest"),
	}
}

// Consume drains the multipart reader part by part. File parts are verified
// against the allow-list before their body is read, streamed to a spool file
// while hashing, and aborted mid-stream the moment the size limit is crossed.
// On any error every already-staged file is discarded; the caller never sees
// partial state.
func (p *Pipeline) Consume(ctx context.Context, reader *multipart.Reader) (*Form, error) {
	if reader == nil {
		return nil, apperrors.ErrMalformedUpload
	}

	form := &Form{Values: make(map[string][]string)}

	for {
		if err := ctx.Err(); err != nil {
			form.Discard()
			return nil, apperrors.ErrMalformedUpload.WithInternal(err)
		}

		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.Discard()
			metrics.UploadRejections.WithLabelValues("malformed").Inc()
			return nil, apperrors.ErrMalformedUpload.WithInternal(err)
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}

		if part.FileName() == "" {
			value, err := readValue(part)
			if err != nil {
				form.Discard()
				metrics.UploadRejections.WithLabelValues("malformed").Inc()
				return nil, apperrors.ErrMalformedUpload.WithInternal(err)
			}
			part.Close()
			form.Values[name] = append(form.Values[name], value)
			continue
		}

		// Error paths return without closing the part: Part.Close drains the
		// remaining body, which would defeat the abort-early guarantee.
		if len(form.Files) >= p.opts.MaxFiles {
			form.Discard()
			metrics.UploadRejections.WithLabelValues("too_many_files").Inc()
			return nil, apperrors.NewBadRequest(fmt.Sprintf("at most %d files per request", p.opts.MaxFiles))
		}

		contentType := partContentType(part)
		if !p.typeAllowed(contentType) {
			form.Discard()
			metrics.UploadRejections.WithLabelValues("unsupported_type").Inc()
			p.log.Debug("rejected upload part",
				zap.String("file", part.FileName()),
				zap.String("content_type", contentType))
			return nil, apperrors.ErrUnsupportedMedia
		}

		staged, err := p.spool(part, name, contentType)
		if err != nil {
			form.Discard()
			return nil, err
		}
		part.Close()

		form.Files = append(form.Files, staged)
		metrics.UploadBytes.Add(float64(staged.ByteSize))
	}

	return form, nil
}

// spool streams one file part to disk, hashing and counting as it goes.
func (p *Pipeline) spool(part *multipart.Part, field, contentType string) (*StagedFile, error) {
	tmp, err := os.CreateTemp(p.opts.SpoolDir, "upload-*")
	if err != nil {
		return nil, apperrors.Wrap(err, "create spool file")
	}

	hasher := sha256.New()
	written, err := io.CopyN(io.MultiWriter(tmp, hasher), part, p.opts.MaxFileBytes+1)

	if err != nil && !errors.Is(err, io.EOF) {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		metrics.UploadRejections.WithLabelValues("malformed").Inc()
		return nil, apperrors.ErrMalformedUpload.WithInternal(err)
	}

	if written > p.opts.MaxFileBytes {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		metrics.UploadRejections.WithLabelValues("too_large").Inc()
		p.log.Debug("aborted oversize upload",
			zap.String("file", part.FileName()),
			zap.Int64("limit", p.opts.MaxFileBytes))
		return nil, apperrors.ErrUploadTooLarge
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, apperrors.Wrap(err, "close spool file")
	}

	return &StagedFile{
		FieldName:   field,
		FileName:    part.FileName(),
		ContentType: contentType,
		ByteSize:    written,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		path:        tmp.Name(),
	}, nil
}

func (p *Pipeline) typeAllowed(contentType string) bool {
	if len(p.opts.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range p.opts.AllowedTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if allowed == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok &&
			strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

func partContentType(part *multipart.Part) string {
	raw := part.Header.Get("Content-Type")
	if raw == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(mediaType)
}

func readValue(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxValueBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxValueBytes {
		return "", fmt.Errorf("form value exceeds %d bytes", maxValueBytes)
	}
	return string(data), nil
}
