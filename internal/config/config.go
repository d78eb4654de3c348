// Package config loads the bsqlc project file. The file is optional: without
// it every goal falls back to the conventional source and output folders of
// a project rooted at the working directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the project file looked up in the base directory.
const DefaultFile = "bsqlc.toml"

// Goal names.
const (
	GoalCompile     = "compile"
	GoalTestCompile = "test-compile"
)

// Goal holds the directories a goal reads from and writes to. Paths are
// absolute once loaded.
type Goal struct {
	Source string
	Output string
}

// Config is the resolved project configuration.
type Config struct {
	// BaseDir is the directory relative goal paths are resolved against.
	BaseDir string

	// Path is the project file that was read; empty when defaults are used.
	Path string

	Engine map[string]string
	Goals  map[string]Goal
}

// NotFoundError is returned when an explicitly requested project file does
// not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "config file not found: " + e.Path
}

// projectFile is the top-level TOML document.
type projectFile struct {
	Engine      map[string]any `toml:"engine"`
	Compile     *tomlGoal      `toml:"compile"`
	TestCompile *tomlGoal      `toml:"test-compile"`
}

// tomlGoal maps [compile] and [test-compile].
type tomlGoal struct {
	Source string `toml:"source"`
	Output string `toml:"output"`
}

// defaultGoals mirrors the standard layout: main scripts compile into the
// class output, test scripts into the test class output.
func defaultGoals() map[string]tomlGoal {
	return map[string]tomlGoal{
		GoalCompile: {
			Source: filepath.Join("src", "main", "sql"),
			Output: filepath.Join("target", "classes"),
		},
		GoalTestCompile: {
			Source: filepath.Join("src", "test", "sql"),
			Output: filepath.Join("target", "test-classes"),
		},
	}
}

// Default returns the configuration used when no project file exists.
func Default(baseDir string) (*Config, error) {
	return resolve(baseDir, "", &projectFile{})
}

// Load reads the project file. When path is empty, DefaultFile inside baseDir
// is used if it exists and defaults otherwise. An explicit path that does not
// exist yields *NotFoundError.
func Load(baseDir, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(baseDir, DefaultFile)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if explicit {
				return nil, &NotFoundError{Path: path}
			}
			return Default(baseDir)
		}
		return nil, fmt.Errorf("config: open file %q: %w", path, err)
	}
	defer f.Close()

	pf, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	// Goal paths are relative to the file that declares them.
	return resolve(filepath.Dir(path), path, pf)
}

// parse decodes a project file. Unknown keys are rejected.
func parse(r io.Reader) (*projectFile, error) {
	var pf projectFile
	md, err := toml.NewDecoder(r).Decode(&pf)
	if err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return &pf, nil
}

func resolve(baseDir, path string, pf *projectFile) (*Config, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve base dir %q: %w", baseDir, err)
	}

	engine, err := engineProperties(pf.Engine)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseDir: base,
		Path:    path,
		Engine:  engine,
		Goals:   make(map[string]Goal, 2),
	}

	overrides := map[string]*tomlGoal{
		GoalCompile:     pf.Compile,
		GoalTestCompile: pf.TestCompile,
	}
	for name, def := range defaultGoals() {
		g := def
		if o := overrides[name]; o != nil {
			if o.Source != "" {
				g.Source = o.Source
			}
			if o.Output != "" {
				g.Output = o.Output
			}
		}
		cfg.Goals[name] = Goal{
			Source: absUnder(base, g.Source),
			Output: absUnder(base, g.Output),
		}
	}

	return cfg, nil
}

// engineProperties flattens the [engine] table into string properties.
// Scalars are accepted; nested tables and arrays are not.
func engineProperties(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool, int64, float64:
			out[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("config: engine property %q must be a string, number or boolean", k)
		}
	}
	return out, nil
}

// Goal returns the directories of the named goal.
func (c *Config) Goal(name string) (Goal, error) {
	g, ok := c.Goals[name]
	if !ok {
		return Goal{}, fmt.Errorf("config: unknown goal %q; supported: %v", name, c.GoalNames())
	}
	return g, nil
}

// GoalNames returns the configured goal names in sorted order.
func (c *Config) GoalNames() []string {
	names := make([]string, 0, len(c.Goals))
	for n := range c.Goals {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func absUnder(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
