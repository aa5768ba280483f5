package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/server"
)

func TestLessonURL(t *testing.T) {
	routes := []*server.Route{
		{Pattern: "/", FilePath: "index.md"},
		{Pattern: "/basics", FilePath: "basics.md"},
	}
	assert.Equal(t, "http://127.0.0.1:4000/basics", lessonURL(4000, routes, "basics.md"))
	assert.Equal(t, "http://127.0.0.1:4000/", lessonURL(4000, routes, ""))
	assert.Equal(t, "http://127.0.0.1:4000/", lessonURL(4000, routes, "missing.md"))
}

func TestWelcomeListsRecentDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(t.TempDir(), "recent.yaml")
	r := loadRecent(path)
	r.add(dir)
	require.NoError(t, r.save())

	app := NewApp(path)
	rec := httptest.NewRecorder()
	app.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Lessonview</h1>")
	assert.Contains(t, body, `data-recent="`+dir+`"`)
	assert.Empty(t, app.GetServerURL())
	assert.Nil(t, app.GetLessons())
}

func TestWelcomeWithoutRecent(t *testing.T) {
	app := NewApp("")
	rec := httptest.NewRecorder()
	app.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, rec.Body.String(), `class="recent"`)
}

func TestRecentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lessonview", "recent.yaml")
	r := loadRecent(path)
	assert.Empty(t, r.Dirs)

	for _, d := range []string{"/a", "/b", "/c", "/a"} {
		r.add(d)
	}
	assert.Equal(t, []string{"/a", "/c", "/b"}, r.Dirs)

	for i := 0; i < maxRecent+3; i++ {
		r.add(filepath.Join("/more", string(rune('a'+i))))
	}
	assert.Len(t, r.Dirs, maxRecent)

	require.NoError(t, r.save())
	assert.Equal(t, r.Dirs, loadRecent(path).Dirs)
}

func TestRecentPrune(t *testing.T) {
	live := t.TempDir()
	r := &recentDirs{Dirs: []string{filepath.Join(live, "gone"), live}}
	r.prune()
	assert.Equal(t, []string{live}, r.Dirs)
}

func TestLoadRecentIgnoresGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dirs: {not: a list"), 0644))
	assert.Empty(t, loadRecent(path).Dirs)
}

func TestSplitTarget(t *testing.T) {
	dir := t.TempDir()
	lesson := filepath.Join(dir, "basics.md")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(lesson, []byte("# Basics"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("notes"), 0644))

	d, f, err := splitTarget(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, d)
	assert.Empty(t, f)

	d, f, err = splitTarget(lesson)
	require.NoError(t, err)
	assert.Equal(t, dir, d)
	assert.Equal(t, "basics.md", f)

	_, _, err = splitTarget(other)
	assert.ErrorContains(t, err, "not a lesson file")
	_, _, err = splitTarget(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOpenSiteServesLessons(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basics.md"), []byte("---\ntitle: Basics\n---\n\nHello.\n"), 0644))

	mem := &clipboard.Memory{}
	s, err := openSite(context.Background(), dir, mem)
	require.NoError(t, err)
	defer s.close()

	assert.Equal(t, "Lessons - "+filepath.Base(dir), s.windowTitle())
	resp, err := http.Get(s.url("basics.md"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, s.url("basics.md"), "/basics")
}
