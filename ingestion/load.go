package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fabfab/fundlens/models"
)

// ReadUpload reads one extracted report saved as JSON. The original file
// name is taken from the JSON file name with .json replaced by .pdf.
func ReadUpload(path string) (Upload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("read %s: %w", path, err)
	}
	var data models.ExtractedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Upload{}, fmt.Errorf("decode %s: %w", path, err)
	}
	base := filepath.Base(path)
	return Upload{
		Filename: strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf",
		FileHash: FileHash(raw),
		FilePath: path,
		Data:     data,
	}, nil
}

// IndexPath indexes a single JSON file or every JSON file below a
// directory. Failures are logged per file and do not stop the walk.
func (ix *Indexer) IndexPath(ctx context.Context, path string) ([]IndexResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var files []string
	if !info.IsDir() {
		files = []string{path}
	} else {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".json") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	if len(files) == 0 {
		ix.logger.Warn().Str("path", path).Msg("no extracted report files found")
		return nil, nil
	}

	results := make([]IndexResult, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		up, err := ReadUpload(f)
		if err != nil {
			ix.logger.Error().Err(err).Str("path", f).Msg("skip file")
			continue
		}
		res, err := ix.IndexDocument(ctx, up)
		if err != nil {
			ix.logger.Error().Err(err).Str("path", f).Msg("ingest failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
