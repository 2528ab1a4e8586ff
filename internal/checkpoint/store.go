package checkpoint

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format is a tabular file encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// FormatOf picks the encoding from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", eris.Errorf("checkpoint: unsupported file type %q", filepath.Ext(path))
}

// Load resumes from checkpointPath when it exists, else starts from
// inputPath.
func Load(checkpointPath, inputPath string) (*Batch, Source, error) {
	if checkpointPath != "" {
		_, err := os.Stat(checkpointPath)
		switch {
		case err == nil:
			b, err := ReadFile(checkpointPath)
			if err != nil {
				return nil, "", err
			}
			return b, SourceCheckpoint, nil
		case !os.IsNotExist(err):
			return nil, "", eris.Wrapf(err, "checkpoint: stat %s", checkpointPath)
		}
	}
	if inputPath == "" {
		return nil, "", eris.New("checkpoint: no checkpoint found and no input path given")
	}
	b, err := ReadFile(inputPath)
	if err != nil {
		return nil, "", err
	}
	return b, SourceInput, nil
}

// ReadFile reads and normalizes one tabular file. The first row is the
// header.
func ReadFile(path string) (*Batch, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	var (
		rows  [][]string
		sheet string
	)
	switch format {
	case FormatXLSX:
		rows, sheet, err = readXLSX(path)
	case FormatCSV:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}

	var header []string
	if len(rows) > 0 {
		header, rows = rows[0], rows[1:]
	}
	b := NewBatch(header, rows)
	b.Sheet = sheet
	return b, nil
}

// Save replaces path with the whole batch. The batch is written to a
// temporary file in the same directory and renamed into place, so readers
// never see a partial file.
func Save(b *Batch, path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	var write func(io.Writer, *Batch) error
	switch format {
	case FormatXLSX:
		write = writeXLSX
	case FormatCSV:
		write = writeCSV
	}
	if err := write(tmp, b); err != nil {
		return err
	}
	if err := tmp.Chmod(fileMode(path)); err != nil {
		return eris.Wrap(err, "checkpoint: chmod temp file")
	}
	if err := tmp.Sync(); err != nil {
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "checkpoint: replace %s", path)
	}
	committed = true
	return nil
}

// fileMode keeps the permissions of an existing checkpoint; new files are
// created world-readable like any other output file.
func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// Store binds a batch to its checkpoint path.
type Store struct {
	CheckpointPath string
	InputPath      string
}

// Load loads the batch for a run.
func (s Store) Load() (*Batch, Source, error) {
	return Load(s.CheckpointPath, s.InputPath)
}

// Save persists b to the checkpoint path.
func (s Store) Save(b *Batch) error {
	return Save(b, s.CheckpointPath)
}
