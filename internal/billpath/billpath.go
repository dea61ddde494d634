// Package billpath maps between canonical bill identifiers and their
// on-disk XML locations. Two directory layouts are supported: the flat
// layout used by GPO bulk downloads and the nested layout produced by
// the congress scraper.
package billpath

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// Layout selects a bill directory layout.
type Layout string

const (
	// LayoutFlat is <congress>/bills/<stage><number>/BILLS-<bnv>.xml.
	LayoutFlat Layout = "flat"
	// LayoutNested is
	// <congress>/bills/<stage>/<stage><number>/text-versions/<version>/document.xml.
	LayoutNested Layout = "nested"
)

// DefaultVersion is assumed when an identifier carries no version code.
const DefaultVersion = "ih"

// billnumberRegex captures the parts of a canonical identifier such as
// "117hr3684enr". The version group is optional.
var billnumberRegex = regexp.MustCompile(
	`^(?P<congress>[1-9][0-9]*)(?P<stage>[a-z]+)(?P<number>[0-9]+)(?P<version>[a-z]+)?$`)

// fileRegex matches a flat-layout bill file name and captures the
// embedded identifier.
var fileRegex = regexp.MustCompile(`^BILLS-(?P<bnv>[1-9][0-9]*[a-z]+[0-9]+[a-z]+)\.xml$`)

var (
	versionDirRegex  = regexp.MustCompile(`^[a-z]+$`)
	stageNumberRegex = regexp.MustCompile(`^[a-z]+[0-9]+$`)
)

// StageCodes is the closed set of bill stage codes, keyed by code with
// the chamber-qualified display name as value.
var StageCodes = map[string]string{
	"hr":      "House Bill",
	"s":       "Senate Bill",
	"hjres":   "House Joint Resolution",
	"sjres":   "Senate Joint Resolution",
	"hconres": "House Concurrent Resolution",
	"sconres": "Senate Concurrent Resolution",
	"hres":    "House Simple Resolution",
	"sres":    "Senate Simple Resolution",
}

// Billnumber is a canonical identifier decomposed into its parts.
type Billnumber struct {
	Congress string
	Stage    string
	Number   string
	Version  string
}

// String returns the congress+stage+number form without the version.
func (b Billnumber) String() string {
	return b.Congress + b.Stage + b.Number
}

// WithVersion returns the full billnumber_version identifier.
func (b Billnumber) WithVersion() string {
	return b.Congress + b.Stage + b.Number + b.Version
}

// ParseBillnumber decomposes a canonical identifier. A missing version
// defaults to DefaultVersion. Malformed input returns an error.
func ParseBillnumber(bnv string) (Billnumber, error) {
	m := billnumberRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(bnv)))
	if m == nil {
		return Billnumber{}, fmt.Errorf("malformed billnumber: %q", bnv)
	}
	bn := Billnumber{
		Congress: m[1],
		Stage:    m[2],
		Number:   m[3],
		Version:  m[4],
	}
	if bn.Version == "" {
		bn.Version = DefaultVersion
	}
	if _, ok := StageCodes[bn.Stage]; !ok {
		return Billnumber{}, fmt.Errorf("unknown bill stage %q in %q", bn.Stage, bnv)
	}
	return bn, nil
}

// BillPath locates one bill version on disk.
type BillPath struct {
	// BillnumberVersion is the canonical id, e.g. "117hr3684enr".
	BillnumberVersion string
	// Path is the directory containing the bill file.
	Path string
	// FileName is the bill file name within Path.
	FileName string
}

// FilePath returns the full path to the bill XML file.
func (p BillPath) FilePath() string {
	return filepath.Join(p.Path, p.FileName)
}

// Resolver resolves bill identifiers to paths for one layout rooted at
// a data directory.
type Resolver struct {
	root   string
	layout Layout
}

// NewResolver returns a resolver for the given root and layout.
func NewResolver(root string, layout Layout) (*Resolver, error) {
	switch layout {
	case LayoutFlat, LayoutNested:
	default:
		return nil, fmt.Errorf("unknown path layout: %q", layout)
	}
	return &Resolver{root: root, layout: layout}, nil
}

// Layout returns the resolver's layout.
func (r *Resolver) Layout() Layout { return r.layout }

// PathFor maps a canonical identifier to its BillPath. The inverse of
// Parse for well-formed identifiers.
func (r *Resolver) PathFor(bnv string) (BillPath, error) {
	bn, err := ParseBillnumber(bnv)
	if err != nil {
		return BillPath{}, err
	}
	switch r.layout {
	case LayoutNested:
		return BillPath{
			BillnumberVersion: bn.WithVersion(),
			Path: filepath.Join(r.root, bn.Congress, "bills", bn.Stage,
				bn.Stage+bn.Number, "text-versions", bn.Version),
			FileName: "document.xml",
		}, nil
	default:
		return BillPath{
			BillnumberVersion: bn.WithVersion(),
			Path:              filepath.Join(r.root, bn.Congress, "bills", bn.Stage+bn.Number),
			FileName:          "BILLS-" + bn.WithVersion() + ".xml",
		}, nil
	}
}

// Parse extracts the canonical identifier from a path to a bill file.
// It returns "" when the path does not carry a recognizable identifier.
func (r *Resolver) Parse(path string) string {
	switch r.layout {
	case LayoutNested:
		return r.parseNested(path)
	default:
		return r.parseFlat(path)
	}
}

func (r *Resolver) parseFlat(path string) string {
	base := filepath.Base(path)
	m := fileRegex.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	bn, err := ParseBillnumber(m[1])
	if err != nil {
		return ""
	}
	return bn.WithVersion()
}

func (r *Resolver) parseNested(path string) string {
	// .../<stage><number>/text-versions/<version>/document.xml
	dir := filepath.Dir(path)
	parts := strings.Split(filepath.ToSlash(dir), "/")
	if len(parts) < 3 {
		return ""
	}
	version := parts[len(parts)-1]
	if parts[len(parts)-2] != "text-versions" {
		return ""
	}
	stageNumber := parts[len(parts)-3]

	// Congress is the ancestor above the "bills" segment.
	congress := ""
	for i := len(parts) - 4; i > 0; i-- {
		if parts[i] == "bills" {
			congress = parts[i-1]
			break
		}
	}
	if congress == "" {
		return ""
	}
	bn, err := ParseBillnumber(congress + stageNumber + version)
	if err != nil {
		return ""
	}
	return bn.WithVersion()
}

// IsFileParent reports whether dir is a directory that directly holds
// bill files under this layout.
func (r *Resolver) IsFileParent(dir string) bool {
	parts := strings.Split(filepath.ToSlash(dir), "/")
	if len(parts) == 0 {
		return false
	}
	last := parts[len(parts)-1]
	switch r.layout {
	case LayoutNested:
		if len(parts) < 2 || parts[len(parts)-2] != "text-versions" {
			return false
		}
		return versionDirRegex.MatchString(last)
	default:
		return stageNumberRegex.MatchString(last) &&
			len(parts) >= 2 && parts[len(parts)-2] == "bills"
	}
}

// FileMatches reports whether name is a bill file name under this
// layout.
func (r *Resolver) FileMatches(name string) bool {
	switch r.layout {
	case LayoutNested:
		return name == "document.xml"
	default:
		return fileRegex.MatchString(name)
	}
}

// Enumerate walks the data root and returns a BillPath for every bill
// file found. Files whose identifier cannot be recovered are skipped.
func (r *Resolver) Enumerate() ([]BillPath, error) {
	var out []BillPath
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !r.FileMatches(d.Name()) {
			return nil
		}
		if !r.IsFileParent(filepath.Dir(path)) {
			return nil
		}
		bnv := r.Parse(path)
		if bnv == "" {
			return nil
		}
		out = append(out, BillPath{
			BillnumberVersion: bnv,
			Path:              filepath.Dir(path),
			FileName:          d.Name(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", r.root, err)
	}
	return out, nil
}
