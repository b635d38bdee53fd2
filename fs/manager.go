package fs

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/santiagomed/plmgen/tree"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileSystem wraps the Afero Fs interface
type FileSystem struct {
	Fs afero.Fs
}

// NewMemoryFileSystem creates a new in-memory file system
func NewMemoryFileSystem() *FileSystem {
	return &FileSystem{
		Fs: afero.NewMemMapFs(),
	}
}

// NewOsFileSystem creates a new OS-based file system
func NewOsFileSystem() *FileSystem {
	return &FileSystem{
		Fs: afero.NewOsFs(),
	}
}

// Format is a batch serialization chosen by file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor maps .json, .yaml and .yml to a Format.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// WriteFile creates a new file with the given content or overwrites an existing file with the content
func (fs *FileSystem) WriteFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := fs.Fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}
	if err := afero.WriteFile(fs.Fs, path, content, 0644); err != nil {
		return fmt.Errorf("error writing file %s: %w", path, err)
	}
	return nil
}

func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(fs.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	return data, nil
}

// IsDir checks if a path is a directory
func (fs *FileSystem) IsDir(path string) bool {
	info, err := fs.Fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ExportBatch writes b to path in the format named by its extension.
func (fs *FileSystem) ExportBatch(b *tree.Batch, path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(b, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(b); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("error encoding batch %s: %w", b.ID, err)
	}
	return fs.WriteFile(path, data)
}

// LoadBatch reads a file written by ExportBatch.
func (fs *FileSystem) LoadBatch(path string) (*tree.Batch, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var b tree.Batch
	if err := decode(format, data, &b); err != nil {
		return nil, fmt.Errorf("error parsing batch %s: %w", path, err)
	}
	if len(b.Roots) == 0 {
		return nil, fmt.Errorf("batch %s has no roots", path)
	}
	return &b, nil
}

// LoadTree reads a hand-written tree: a batch document, a list of nodes or
// a single node.
func (fs *FileSystem) LoadTree(path string) ([]*tree.LabeledNode, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var b tree.Batch
	if err := decode(format, data, &b); err == nil && len(b.Roots) > 0 {
		return b.Roots, nil
	}

	var roots []*tree.LabeledNode
	if err := decode(format, data, &roots); err == nil && len(roots) > 0 {
		return roots, nil
	}

	var single tree.LabeledNode
	if err := decode(format, data, &single); err != nil {
		return nil, fmt.Errorf("error parsing tree %s: %w", path, err)
	}
	if strings.TrimSpace(single.Name) == "" {
		return nil, fmt.Errorf("tree %s has no named nodes", path)
	}
	return []*tree.LabeledNode{&single}, nil
}

func decode(format Format, data []byte, v interface{}) error {
	if format == FormatYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// WriteToZip writes the given files, and the files below the given
// directories, into a zip archive on w.
func (fs *FileSystem) WriteToZip(w io.Writer, paths []string) error {
	zipWriter := zip.NewWriter(w)

	fileCount := 0
	for _, root := range paths {
		err := afero.Walk(fs.Fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			writer, err := zipWriter.Create(filepath.ToSlash(path))
			if err != nil {
				return fmt.Errorf("error creating zip entry for file %s: %w", path, err)
			}

			file, err := fs.Fs.Open(path)
			if err != nil {
				return fmt.Errorf("error opening file %s: %w", path, err)
			}
			defer file.Close()

			if _, err := io.Copy(writer, file); err != nil {
				return fmt.Errorf("error writing file %s to zip: %w", path, err)
			}

			fileCount++
			return nil
		})
		if err != nil {
			return fmt.Errorf("error walking %s: %w", root, err)
		}
	}

	if fileCount == 0 {
		return fmt.Errorf("no files to zip")
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("error closing zip writer: %w", err)
	}
	return nil
}
