// Package samples embeds the example manifests shipped with the CLI.
package samples

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed nyc-taxi pytorch-job
var files embed.FS

var ErrUnknownSample = errors.New("unknown sample")

// FS exposes the samples as a read-only file system rooted at the sample names.
func FS() fs.FS {
	return files
}

// Names lists the sample directories.
func Names() []string {
	entries, _ := fs.ReadDir(files, ".")
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Files lists the files of a sample relative to its directory.
func Files(name string) ([]string, error) {
	root, err := sampleRoot(name)
	if err != nil {
		return nil, err
	}
	var out []string
	err = fs.WalkDir(files, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, strings.TrimPrefix(p, root+"/"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Get returns one file of a sample, e.g. Get("nyc-taxi", "pipeline.yaml").
func Get(name, file string) ([]byte, error) {
	root, err := sampleRoot(name)
	if err != nil {
		return nil, err
	}
	rel := path.Clean("/" + file)[1:]
	data, err := fs.ReadFile(files, path.Join(root, rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSample, name, file)
	}
	return data, nil
}

func sampleRoot(name string) (string, error) {
	for _, known := range Names() {
		if known == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q (available: %s)", ErrUnknownSample, name, strings.Join(Names(), ", "))
}
