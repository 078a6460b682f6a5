// Package licenses captures license and notice text from an installed
// dependency's directory.
package licenses

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LouisBoudreau/licensed/internal/record"
)

// licensePatterns match license file names, compared case-insensitively
var licensePatterns = []string{"license*", "licence*", "copying*", "unlicense", "unlicense.*"}

// noticePatterns match notice file names, compared case-insensitively
var noticePatterns = []string{"notice*", "authors*", "copyright*", "thirdpartynotices*"}

// licensesDir holds additional license files in some packages, such as PEP 639 wheels
const licensesDir = "licenses"

// Capture reads license and notice files from dir. Each license carries its
// file name, relative to dir, as its source. A missing directory yields no
// content.
func Capture(dir string) ([]record.License, []string, error) {
	files, err := candidates(dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		licenses []record.License
		notices  []string
	)
	for _, rel := range files {
		isLicense := matchesAny(licensePatterns, path.Base(rel)) || strings.EqualFold(path.Dir(rel), licensesDir)
		isNotice := !isLicense && matchesAny(noticePatterns, path.Base(rel))
		if !isLicense && !isNotice {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, nil, err
		}
		text := string(data)
		if strings.TrimSpace(text) == "" {
			continue
		}

		if isLicense {
			licenses = append(licenses, record.License{Sources: []string{rel}, Text: text})
		} else {
			notices = append(notices, text)
		}
	}
	return licenses, notices, nil
}

// candidates returns regular files at the top level of dir and in its
// licenses directory, as sorted slash separated relative paths
func candidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		switch {
		case e.Type().IsRegular():
			files = append(files, e.Name())
		case e.IsDir() && strings.EqualFold(e.Name(), licensesDir):
			nested, err := os.ReadDir(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			for _, n := range nested {
				if n.Type().IsRegular() {
					files = append(files, e.Name()+"/"+n.Name())
				}
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func matchesAny(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
