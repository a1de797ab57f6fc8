package sites

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/storage"
	"github.com/sdko-org/site-gateway/internal/validate"
	"github.com/sirupsen/logrus"
)

type preparedFile struct {
	path    string
	content []byte
}

// prepareFiles is the validation pass of a bulk write. Nothing is written
// here; the first bad entry fails the whole upload. Paths are visited in
// sorted order so the reported file is deterministic.
func (s *Service) prepareFiles(files map[string]string) ([]preparedFile, error) {
	if len(files) > s.limits.MaxFiles {
		return nil, apperr.InvalidArg("too many files: %d (max %d)", len(files), s.limits.MaxFiles)
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var total int64
	seen := make(map[string]string, len(files))
	out := make([]preparedFile, 0, len(files))
	for _, p := range paths {
		clean, err := validate.FilePath(p)
		if err != nil {
			return nil, apperr.InvalidArg("invalid file path %q: %v", p, err)
		}
		if prev, dup := seen[clean]; dup {
			return nil, apperr.InvalidArg("file paths %q and %q refer to the same file", prev, p)
		}
		seen[clean] = p

		content, ok := validate.DecodeBase64(files[p])
		if !ok {
			return nil, apperr.InvalidArg("file %q is not valid base64", p)
		}
		size := int64(len(content))
		if size > s.limits.MaxFileBytes {
			return nil, apperr.InvalidArg("file %q is %d bytes (max %d)", p, size, s.limits.MaxFileBytes)
		}
		total += size
		if total > s.limits.MaxTotalBytes {
			return nil, apperr.InvalidArg("upload exceeds %d bytes total at file %q", s.limits.MaxTotalBytes, p)
		}
		out = append(out, preparedFile{path: clean, content: content})
	}
	return out, nil
}

// writeFiles is the write pass. Objects are written one at a time; if any
// write fails, everything written so far is deleted before the original
// error is returned.
func (s *Service) writeFiles(ctx context.Context, brand, name string, files []preparedFile) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		key := storage.ObjectKey(brand, name, f.path)
		if err := s.objects.Put(ctx, key, f.content, storage.ContentType(f.path)); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"brand":   brand,
				"site":    name,
				"key":     key,
				"written": len(written),
			}).Error("File write failed, rolling back")
			s.rollback(ctx, brand, name, written)
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to write site files", err)
		}
		written = append(written, key)
	}
	return written, nil
}

// rollback is best effort: its own failure is logged, never returned, so
// the caller still sees the error that triggered it.
func (s *Service) rollback(ctx context.Context, brand, name string, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.objects.DeleteMany(context.WithoutCancel(ctx), keys); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"brand": brand,
			"site":  name,
			"keys":  len(keys),
		}).Error("Rollback of written files failed")
	}
}

func (s *Service) readObject(ctx context.Context, key string) (string, error) {
	obj, err := s.objects.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer obj.Body.Close()
	content, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	return base64.StdEncoding.EncodeToString(content), nil
}
