// Package compiler implements the incremental script compiler. It walks an
// input tree for .sql files, recompiles the ones whose .bsql artifact is
// missing or older than the source, and writes the artifacts to a mirrored
// output tree. Compile errors are collected and reported at the end of a run;
// I/O errors while writing abort the run immediately.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"bsqlc/internal/buildlog"
	"bsqlc/internal/engine"
)

const (
	// SourceExt is the extension of script sources.
	SourceExt = ".sql"
	// TargetExt is the extension of compiled artifacts.
	TargetExt = ".bsql"

	separator = "---------------------------------------"
)

// ScriptCompiler is the engine a run delegates compilation to.
type ScriptCompiler interface {
	DefaultProperties() engine.Properties
	Compile(name string, src []byte, props engine.Properties) (*engine.Script, error)
}

// Options configures a run.
type Options struct {
	InputDir  string
	OutputDir string
	// Properties override the engine defaults for this run.
	Properties map[string]string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Engine defaults to engine.New().
	Engine ScriptCompiler
}

// Compiler runs incremental compilations for one input/output pair.
type Compiler struct {
	input  string
	output string
	props  map[string]string
	fs     afero.Fs
	engine ScriptCompiler
}

// New returns a Compiler for opts.
func New(opts Options) *Compiler {
	c := &Compiler{
		input:  filepath.Clean(opts.InputDir),
		output: filepath.Clean(opts.OutputDir),
		props:  opts.Properties,
		fs:     opts.Fs,
		engine: opts.Engine,
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.engine == nil {
		c.engine = engine.New()
	}
	return c
}

// Run performs one incremental compilation. The returned summary is non-nil
// whenever discovery succeeded, including runs that end in *BuildError.
func (c *Compiler) Run(ctx context.Context) (*Summary, error) {
	log := buildlog.FromContext(ctx)
	summary := &Summary{InputDir: c.input, OutputDir: c.output}

	log.Info(fmt.Sprintf("Processing folder %s", c.input))
	info, err := c.fs.Stat(c.input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Directory does not exist! Nothing to do.")
			return summary, nil
		}
		return nil, fmt.Errorf("failed to stat input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", c.input)
	}

	sources, err := Discover(c.fs, c.input)
	if err != nil {
		return nil, fmt.Errorf("failed to list sql files: %w", err)
	}
	summary.Discovered = len(sources)
	if len(sources) == 0 {
		log.Warn("Found 0 sql files! Nothing to do.")
		return summary, nil
	}

	var changed []string
	for _, src := range sources {
		stale, err := IsStale(c.fs, src, TargetPath(c.input, c.output, src))
		if err != nil {
			return nil, err
		}
		if stale {
			changed = append(changed, src)
		}
	}
	summary.Changed = len(changed)

	switch {
	case len(changed) == 0:
		log.Info("Nothing to compile - all compiled scripts are up to date")
		return summary, nil
	case len(changed) != len(sources):
		log.Info(fmt.Sprintf("Compiling %d changed sql files out of %d to %s", len(changed), len(sources), c.output))
	default:
		log.Info(fmt.Sprintf("Compiling %d sql files to %s", len(sources), c.output))
	}

	if err := c.fs.MkdirAll(c.output, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create output directory %s: %w", c.output, err)
	}

	props := c.engine.DefaultProperties().Merge(c.props)
	logProperties(ctx, log, c.props, props)

	for _, src := range changed {
		log.Debug("Parsing script " + src)

		script, err := c.compile(src, props)
		if err != nil {
			c.reportFailure(log, summary, src, err)
			continue
		}

		target := TargetPath(c.input, c.output, src)
		if err := c.write(target, script); err != nil {
			return summary, fmt.Errorf("error while saving to '%s': %w", target, err)
		}
		summary.Compiled = append(summary.Compiled, target)
	}

	if n := len(summary.Failures); n != 0 {
		log.Info(fmt.Sprintf("%d errors", n))
		return summary, &BuildError{Count: n}
	}
	return summary, nil
}

func (c *Compiler) compile(src string, props engine.Properties) (*engine.Script, error) {
	data, err := afero.ReadFile(c.fs, src)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return c.engine.Compile(src, data, props)
}

func (c *Compiler) reportFailure(log *slog.Logger, summary *Summary, src string, err error) {
	if len(summary.Failures) == 0 {
		log.Info(separator)
		log.Error("COMPILATION ERROR :")
		log.Info(separator)
	}

	failure := Failure{Source: src, Message: err.Error()}
	var ce *engine.CompileError
	if errors.As(err, &ce) && ce.Location != nil {
		failure.Location = ce.Location
	}
	summary.Failures = append(summary.Failures, failure)

	log.Error(failure.Message)
	log.Info(fmt.Sprintf("location:  %s", src))
	if failure.Location != nil {
		log.Info(failure.Location.Pretty())
	}
	log.Debug("compile failure", "err", err)
	log.Info(separator)
}

// write replaces target with the artifact. A partially written target is
// removed so it cannot pass the staleness check on the next run.
func (c *Compiler) write(target string, script *engine.Script) (err error) {
	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := c.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	f, err := c.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = c.fs.Remove(target)
		}
	}()

	return script.Save(f)
}

func logProperties(ctx context.Context, log *slog.Logger, custom map[string]string, merged engine.Properties) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	log.Debug("Engine invocation properties:")
	if len(custom) == 0 {
		log.Debug("No custom properties. Using Default:")
	} else {
		log.Debug("Custom properties:")
		printProperties(log, custom)
		log.Debug("Merged with default properties:")
	}
	printProperties(log, merged)
}

func printProperties(log *slog.Logger, p map[string]string) {
	log.Debug(" {")
	for _, k := range engine.Properties(p).Keys() {
		log.Debug("  " + k + " = " + p[k])
	}
	log.Debug(" }")
}

// Discover returns every file under root with the source extension, in
// lexical walk order.
func Discover(fsys afero.Fs, root string) ([]string, error) {
	var files []string
	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(info.Name()) == SourceExt {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// TargetPath maps a source file to its artifact path: the source directory
// relative to inputRoot is recreated under outputRoot and the .sql extension
// becomes .bsql. source must lie below inputRoot; otherwise the artifact is
// placed directly in outputRoot.
func TargetPath(inputRoot, outputRoot, source string) string {
	local, err := filepath.Rel(filepath.Clean(inputRoot), filepath.Dir(filepath.Clean(source)))
	if err != nil || local == ".." || strings.HasPrefix(local, ".."+string(filepath.Separator)) {
		local = ""
	}
	name := strings.TrimSuffix(filepath.Base(source), SourceExt) + TargetExt
	return filepath.Join(outputRoot, local, name)
}

// IsStale reports whether source needs compiling: its target is missing or
// the source was modified strictly after the target.
func IsStale(fsys afero.Fs, source, target string) (bool, error) {
	tinfo, err := fsys.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", target, err)
	}
	sinfo, err := fsys.Stat(source)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", source, err)
	}
	return sinfo.ModTime().After(tinfo.ModTime()), nil
}
