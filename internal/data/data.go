// Package data fetches the input files a backpack declares in its
// data.yml before the session starts. Items already present with a
// matching checksum are left alone, so fetching is idempotent.
package data

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"gopkg.in/yaml.v3"
)

// Spec is the top-level data.yml document.
type Spec struct {
	Data []Item `yaml:"data"`
}

// Item describes one input to fetch.
type Item struct {
	Name           string       `yaml:"name"`
	SourceType     string       `yaml:"source_type"` // url, filesystem, backpack
	Source         string       `yaml:"source"`
	TargetLocation string       `yaml:"target_location"`
	Verification   Verification `yaml:"verification,omitempty"`
}

// Verification holds the optional integrity check for an item.
type Verification struct {
	Checksum string `yaml:"checksum,omitempty"` // md5 hex digest
}

// LoadSpec parses a data.yml file.
func LoadSpec(path string) (*Spec, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(body, &spec); err != nil {
		return nil, fmt.Errorf("parse data spec %s: %w", path, err)
	}
	return &spec, nil
}

// EnsureFetched makes every item in the spec present and verified,
// fetching the ones that are missing or fail their checksum. Items with
// missing fields or unknown source types are logged and skipped; a
// broken declaration should not abort the whole session.
func EnsureFetched(specPath, backpackRoot string, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(os.Stdout, "[data] ", log.LstdFlags|log.Lmsgprefix)
	}

	spec, err := LoadSpec(specPath)
	if err != nil {
		return err
	}
	if len(spec.Data) == 0 {
		logger.Printf("no data items in %s", specPath)
		return nil
	}

	root, err := filepath.Abs(backpackRoot)
	if err != nil {
		return fmt.Errorf("resolve backpack root: %w", err)
	}

	for _, item := range spec.Data {
		name := item.Name
		if name == "" {
			name = "<unnamed>"
		}

		if item.Source == "" || item.SourceType == "" || item.TargetLocation == "" {
			logger.Printf("skipping %s: missing source, source_type or target_location", name)
			continue
		}

		if item.Verification.Checksum != "" && checksumMatches(item.TargetLocation, item.Verification.Checksum) {
			logger.Printf("%s already present and verified", name)
			continue
		}

		if err := fetchItem(item, root, logger); err != nil {
			logger.Printf("fetch %s: %v", name, err)
			continue
		}
		logger.Printf("fetched %s => %s", name, item.TargetLocation)
	}
	return nil
}

func fetchItem(item Item, backpackRoot string, logger *log.Logger) error {
	switch item.SourceType {
	case "url":
		return download(item.Source, item.TargetLocation, item.Verification.Checksum)
	case "filesystem":
		return copyPath(item.Source, item.TargetLocation)
	case "backpack":
		src := filepath.Join(backpackRoot, strings.TrimPrefix(item.Source, "/"))
		return copyPath(src, item.TargetLocation)
	default:
		return fmt.Errorf("unsupported source type %q", item.SourceType)
	}
}

// download fetches a URL to dest. When a checksum is declared it is
// passed to the getter, which both verifies the result and skips the
// download entirely if dest already matches.
func download(src, dest, checksum string) error {
	if checksum != "" {
		src = src + "?checksum=md5:" + checksum
	}

	client := &getter.Client{
		Src:  src,
		Dst:  dest,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}
	return nil
}

// copyPath copies a file or a directory tree to dest.
func copyPath(src, dest string) error {
	stat, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create target parent: %w", err)
	}

	if stat.IsDir() {
		return copyTree(src, dest)
	}
	return copyFile(src, dest, stat.Mode().Perm())
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// checksumMatches reports whether the file at path has the expected
// md5 digest. Directories and missing files never match.
func checksumMatches(path, expected string) bool {
	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == expected
}
