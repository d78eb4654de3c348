package compiler

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsqlc/internal/buildlog"
	"bsqlc/internal/engine"
)

const (
	goodScript = "CREATE TABLE users (id INT PRIMARY KEY);\nINSERT INTO users VALUES (1);\n"
	badScript  = "CREATE TABLE ok (id INT);\nSELEC * FROM users;\n"
)

var past = time.Now().Add(-time.Hour).Truncate(time.Second)

// recordingEngine wraps the real engine and remembers every call.
type recordingEngine struct {
	*engine.Engine
	calls []string
	props []engine.Properties
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{Engine: engine.New()}
}

func (e *recordingEngine) Compile(name string, src []byte, props engine.Properties) (*engine.Script, error) {
	e.calls = append(e.calls, name)
	e.props = append(e.props, props)
	return e.Engine.Compile(name, src, props)
}

// failingFs refuses to create one path.
type failingFs struct {
	afero.Fs
	failPath string
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.failPath && flag&os.O_CREATE != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.ENOSPC}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

// shortWriteFs lets one path be created but fails every write to it after
// the first.
type shortWriteFs struct {
	afero.Fs
	failPath string
}

func (f *shortWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || name != f.failPath {
		return file, err
	}
	return &shortFile{File: file}, nil
}

type shortFile struct {
	afero.File
	writes int
}

func (f *shortFile) Write(p []byte) (int, error) {
	if f.writes > 0 {
		return 0, &fs.PathError{Op: "write", Path: f.Name(), Err: syscall.ENOSPC}
	}
	f.writes++
	return f.File.Write(p)
}

func newTree(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
		require.NoError(t, fsys.Chtimes(path, past, past))
	}
	return fsys
}

func startLog(t *testing.T, level slog.Level) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	ctx, session := buildlog.Start(context.Background(), &buf, buildlog.Options{Level: level})
	t.Cleanup(func() { _ = session.End() })
	return ctx, &buf
}

var targetPathTests = []struct {
	name   string
	input  string
	output string
	source string
	want   string
}{
	{"nested file", "/a", "/b", "/a/x/y.sql", "/b/x/y.bsql"},
	{"file at root", "/a", "/b", "/a/y.sql", "/b/y.bsql"},
	{"trailing separator on input root", "/a/", "/b", "/a/x/y.sql", "/b/x/y.bsql"},
	{"deep tree", "/src/main/sql", "/target/classes", "/src/main/sql/db/v1/init.sql", "/target/classes/db/v1/init.bsql"},
	{"dots in base name", "/a", "/b", "/a/v1.2.sql", "/b/v1.2.bsql"},
	{"relative root keeps hidden directory", ".", "out", ".hidden/y.sql", "out/.hidden/y.bsql"},
	{"relative root file at root", ".", "out", "y.sql", "out/y.bsql"},
	{"root prefix is not a path component", "/a", "/b", "/ab/y.sql", "/b/y.bsql"},
	{"root name shares prefix with sibling", "src", "out", "src/srcx/y.sql", "out/srcx/y.bsql"},
}

func TestTargetPath(t *testing.T) {
	for _, tt := range targetPathTests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetPath(tt.input, tt.output, tt.source))
		})
	}
}

func TestTargetPathDistinctSources(t *testing.T) {
	sources := []string{".cfg/a.sql", "cfg/a.sql", "a.sql", "x/.cfg/a.sql"}
	seen := map[string]string{}
	for _, src := range sources {
		target := TargetPath(".", "out", src)
		prev, dup := seen[target]
		assert.False(t, dup, "%s and %s both map to %s", prev, src, target)
		seen[target] = src
	}
}

func TestIsStale(t *testing.T) {
	fsys := newTree(t, map[string]string{"/src/a.sql": goodScript})

	stale, err := IsStale(fsys, "/src/a.sql", "/out/a.bsql")
	require.NoError(t, err)
	assert.True(t, stale, "missing target is stale")

	require.NoError(t, afero.WriteFile(fsys, "/out/a.bsql", []byte("x"), 0o644))

	require.NoError(t, fsys.Chtimes("/out/a.bsql", past.Add(time.Minute), past.Add(time.Minute)))
	stale, err = IsStale(fsys, "/src/a.sql", "/out/a.bsql")
	require.NoError(t, err)
	assert.False(t, stale, "newer target is up to date")

	require.NoError(t, fsys.Chtimes("/out/a.bsql", past, past))
	stale, err = IsStale(fsys, "/src/a.sql", "/out/a.bsql")
	require.NoError(t, err)
	assert.False(t, stale, "equal times are up to date")

	require.NoError(t, fsys.Chtimes("/out/a.bsql", past.Add(-time.Minute), past.Add(-time.Minute)))
	stale, err = IsStale(fsys, "/src/a.sql", "/out/a.bsql")
	require.NoError(t, err)
	assert.True(t, stale, "older target is stale")
}

func TestDiscover(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"/src/b.sql":        goodScript,
		"/src/a.sql":        goodScript,
		"/src/sub/c.sql":    goodScript,
		"/src/notes.txt":    "ignored",
		"/src/sub/d.sql.bk": "ignored",
	})

	files, err := Discover(fsys, "/src")
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/a.sql", "/src/b.sql", "/src/sub/c.sql"}, files)
}

func TestRunMissingInputDir(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelInfo)
	fsys := afero.NewMemMapFs()
	eng := newRecordingEngine()

	summary, err := New(Options{InputDir: "/missing", OutputDir: "/out", Fs: fsys, Engine: eng}).Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, summary.Discovered)
	assert.Empty(t, eng.calls)
	assert.Contains(t, logs.String(), "[WARNING] Directory does not exist! Nothing to do.")

	exists, err := afero.DirExists(fsys, "/out")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunInputIsFile(t *testing.T) {
	fsys := newTree(t, map[string]string{"/src.sql": goodScript})

	_, err := New(Options{InputDir: "/src.sql", OutputDir: "/out", Fs: fsys}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestRunEmptyInputDir(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelInfo)
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src/empty", 0o755))

	summary, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys}).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.OK())
	assert.Zero(t, summary.Discovered)
	assert.Zero(t, summary.Changed)
	assert.Contains(t, logs.String(), "Found 0 sql files! Nothing to do.")
}

func TestRunCompileErrorDoesNotStopOthers(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelInfo)
	fsys := newTree(t, map[string]string{
		"/src/bad.sql":      badScript,
		"/src/nested/a.sql": goodScript,
	})

	summary, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys}).Run(ctx)
	require.Error(t, err)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, 1, buildErr.Count)
	assert.Equal(t, "There was 1 SQL build error! See above for more details.", err.Error())

	require.NotNil(t, summary)
	assert.False(t, summary.OK())
	assert.Equal(t, 2, summary.Changed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "/src/bad.sql", summary.Failures[0].Source)
	require.NotNil(t, summary.Failures[0].Location)
	assert.Equal(t, 2, summary.Failures[0].Location.Line)
	assert.Equal(t, []string{"/out/nested/a.bsql"}, summary.Compiled)

	f, err := fsys.Open("/out/nested/a.bsql")
	require.NoError(t, err)
	defer f.Close()
	script, err := engine.Load(f)
	require.NoError(t, err)
	assert.Len(t, script.Statements, 2)

	exists, err := afero.Exists(fsys, "/out/bad.bsql")
	require.NoError(t, err)
	assert.False(t, exists)

	out := logs.String()
	assert.Contains(t, out, "[ERROR] COMPILATION ERROR :")
	assert.Contains(t, out, "[INFO] location:  /src/bad.sql")
	assert.Contains(t, out, "[INFO] 1 errors")
}

func TestRunCountsEveryFailure(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelInfo)
	fsys := newTree(t, map[string]string{
		"/src/a.sql": badScript,
		"/src/b.sql": "DROP TABL x;",
		"/src/c.sql": goodScript,
	})

	_, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys}).Run(ctx)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, 2, buildErr.Count)
	assert.Equal(t, "There were 2 SQL build errors! See above for more details.", err.Error())
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("COMPILATION ERROR :")), "banner is printed once")
}

func TestRunWriteFailureAborts(t *testing.T) {
	base := newTree(t, map[string]string{
		"/src/a.sql": goodScript,
		"/src/b.sql": goodScript,
		"/src/c.sql": goodScript,
	})
	fsys := &failingFs{Fs: base, failPath: "/out/b.bsql"}
	eng := newRecordingEngine()

	summary, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys, Engine: eng}).Run(context.Background())
	require.Error(t, err)

	var buildErr *BuildError
	assert.False(t, errors.As(err, &buildErr), "write failures are not build errors")
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Contains(t, err.Error(), "error while saving to '/out/b.bsql'")

	assert.Equal(t, []string{"/src/a.sql", "/src/b.sql"}, eng.calls, "files after the failure are not processed")
	assert.Equal(t, []string{"/out/a.bsql"}, summary.Compiled)

	for path, want := range map[string]bool{"/out/a.bsql": true, "/out/b.bsql": false, "/out/c.bsql": false} {
		exists, err := afero.Exists(base, path)
		require.NoError(t, err)
		assert.Equal(t, want, exists, path)
	}
}

func TestRunRemovesPartialTarget(t *testing.T) {
	base := newTree(t, map[string]string{
		"/src/x.sql": goodScript,
		"/src/y.sql": goodScript,
	})
	require.NoError(t, afero.WriteFile(base, "/out/x.bsql", []byte("old"), 0o644))
	require.NoError(t, base.Chtimes("/out/x.bsql", past.Add(-time.Minute), past.Add(-time.Minute)))
	fsys := &shortWriteFs{Fs: base, failPath: "/out/x.bsql"}
	eng := newRecordingEngine()

	summary, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys, Engine: eng}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Contains(t, err.Error(), "error while saving to '/out/x.bsql'")
	assert.Empty(t, summary.Compiled)
	assert.Equal(t, []string{"/src/x.sql"}, eng.calls)

	for _, path := range []string{"/out/x.bsql", "/out/y.bsql"} {
		exists, err := afero.Exists(base, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"/src/a.sql":     goodScript,
		"/src/sub/b.sql": goodScript,
	})
	eng := newRecordingEngine()
	c := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys, Engine: eng})

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Changed)
	assert.Len(t, eng.calls, 2)

	ctx, logs := startLog(t, slog.LevelInfo)
	second, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Discovered)
	assert.Zero(t, second.Changed)
	assert.Empty(t, second.Compiled)
	assert.Len(t, eng.calls, 2, "no recompilation on the second run")
	assert.Contains(t, logs.String(), "Nothing to compile - all compiled scripts are up to date")
}

func TestRunRecompilesOnlyModifiedSources(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"/src/a.sql": goodScript,
		"/src/b.sql": goodScript,
	})
	eng := newRecordingEngine()
	c := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys, Engine: eng})

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, fsys.Chtimes("/src/b.sql", future, future))

	ctx, logs := startLog(t, slog.LevelInfo)
	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, []string{"/src/a.sql", "/src/b.sql", "/src/b.sql"}, eng.calls)
	assert.Contains(t, logs.String(), "Compiling 1 changed sql files out of 2 to /out")
}

func TestRunReplacesStaleTarget(t *testing.T) {
	fsys := newTree(t, map[string]string{"/src/a.sql": goodScript})
	require.NoError(t, afero.WriteFile(fsys, "/out/a.bsql", []byte("stale junk"), 0o644))
	older := past.Add(-time.Hour)
	require.NoError(t, fsys.Chtimes("/out/a.bsql", older, older))

	_, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys}).Run(context.Background())
	require.NoError(t, err)

	f, err := fsys.Open("/out/a.bsql")
	require.NoError(t, err)
	defer f.Close()
	_, err = engine.Load(f)
	assert.NoError(t, err)
}

func TestRunMergesProperties(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelDebug)
	fsys := newTree(t, map[string]string{"/src/a.sql": goodScript})
	eng := newRecordingEngine()

	_, err := New(Options{
		InputDir:   "/src",
		OutputDir:  "/out",
		Fs:         fsys,
		Engine:     eng,
		Properties: map[string]string{engine.PropSQLMode: "ANSI_QUOTES"},
	}).Run(ctx)
	require.NoError(t, err)

	require.Len(t, eng.props, 1)
	assert.Equal(t, engine.DefaultProperties().Merge(map[string]string{engine.PropSQLMode: "ANSI_QUOTES"}), eng.props[0])

	out := logs.String()
	assert.Contains(t, out, "[DEBUG] Custom properties:")
	assert.Contains(t, out, "[DEBUG]   sql_mode = ANSI_QUOTES")
	assert.Contains(t, out, "[DEBUG]   charset = utf8mb4")
}

func TestRunDefaultPropertiesLogged(t *testing.T) {
	ctx, logs := startLog(t, slog.LevelDebug)
	fsys := newTree(t, map[string]string{"/src/a.sql": goodScript})

	_, err := New(Options{InputDir: "/src", OutputDir: "/out", Fs: fsys}).Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "No custom properties. Using Default:")
}
