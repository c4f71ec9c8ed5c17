// Package imports handles Snow's module-import path plumbing.
// It mirrors the teacher's pkg/preproc/pkg/cpp split (an Options
// struct configuring a resolution pass) but, per spec.md §6, only the
// path plumbing is in scope: seeding and searching a list of candidate
// directories, not walking the filesystem to actually parse an
// imported module's source.
package imports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Options configures import-path resolution: the search paths an
// external module resolver (out of scope) would be handed, plus the
// env/property sources spec.md §6 names for seeding them.
type Options struct {
	SearchPaths []string // -I-style explicit directories, checked first
	SnowLib     string   // SNOW_LIB env var or snow.lib property
	SnowHome    string   // SNOW_HOME env var or snow.home property
}

// FromEnvironment seeds an Options from SNOW_LIB/SNOW_HOME, per
// spec.md §6: "SNOW_LIB/SNOW_HOME env vars and snow.lib/snow.home
// properties are read by internal/imports to seed a search path handed
// to the external module resolver."
func FromEnvironment() Options {
	return Options{
		SnowLib:  os.Getenv("SNOW_LIB"),
		SnowHome: os.Getenv("SNOW_HOME"),
	}
}

// WithProperties overrides SnowLib/SnowHome from snow.lib/snow.home
// properties (e.g. parsed from a build-config file), falling back to
// whatever FromEnvironment already populated when a property is unset.
func (o Options) WithProperties(props map[string]string) Options {
	if v, ok := props["snow.lib"]; ok && v != "" {
		o.SnowLib = v
	}
	if v, ok := props["snow.home"]; ok && v != "" {
		o.SnowHome = v
	}
	return o
}

// SearchPath returns the ordered list of directories a module resolver
// should search: explicit SearchPaths first, then SNOW_LIB, then
// SNOW_HOME/lib, matching the teacher's own "explicit flags first, then
// environment defaults" precedence in pkg/preproc.Options.
func (o Options) SearchPath() []string {
	var paths []string
	paths = append(paths, o.SearchPaths...)
	if o.SnowLib != "" {
		for _, p := range filepath.SplitList(o.SnowLib) {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}
	if o.SnowHome != "" {
		paths = append(paths, filepath.Join(o.SnowHome, "lib"))
	}
	return paths
}

// Resolve locates a module by its import name (e.g. "std.io") within
// the search path, returning the first directory entry containing a
// file named name+".snow". It does not parse or read the file — actual
// module loading is out of scope per spec.md §6.
func Resolve(name string, opts Options) (string, error) {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator)) + ".snow"
	for _, dir := range opts.SearchPath() {
		candidate := filepath.Join(dir, rel)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("imports: module %q not found on search path", name)
}
