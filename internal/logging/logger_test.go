package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwidget/internal/config"
)

func readCategoryLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, ".chatwidget", "logs", date+"_"+string(cat)+".log"))
	require.NoError(t, err)
	return string(data)
}

func TestAllCategoriesLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "debug"}))
	defer CloseAll()

	assert.True(t, IsDebugMode())

	for _, cat := range AllCategories {
		assert.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		l := Get(cat)
		l.Info("info for %s", cat)
		l.Debug("debug for %s", cat)
		l.Warn("warn for %s", cat)
		l.Error("error for %s", cat)
	}
	CloseAll()

	for _, cat := range AllCategories {
		content := readCategoryLog(t, dir, cat)
		assert.Contains(t, content, "info for "+string(cat))
		assert.Contains(t, content, "debug for "+string(cat))
		assert.Contains(t, content, "ERROR")
	}
}

func TestDebugModeOffWritesNothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: false}))
	defer CloseAll()

	Get(CategoryWidget).Info("should not appear")
	Store("should not appear")

	_, err := os.Stat(filepath.Join(dir, ".chatwidget", "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir should not be created when debug_mode is off")
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"backend": false},
	}))
	defer CloseAll()

	assert.False(t, IsCategoryEnabled(CategoryBackend))
	assert.True(t, IsCategoryEnabled(CategoryWidget))

	Get(CategoryBackend).Info("hidden")
	Get(CategoryWidget).Info("shown")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	_, err := os.Stat(filepath.Join(dir, ".chatwidget", "logs", date+"_backend.log"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, readCategoryLog(t, dir, CategoryWidget), "shown")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "warn"}))
	defer CloseAll()

	l := Get(CategoryUI)
	l.Debug("too quiet")
	l.Info("still too quiet")
	l.Warn("loud enough")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryUI)
	assert.NotContains(t, content, "too quiet")
	assert.Contains(t, content, "loud enough")
}

func TestJSONFormatAndFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "debug", Format: "json"}))
	defer CloseAll()

	Get(CategoryStore).With("session", "abc").Info("stored turn %d", 3)
	CloseAll()

	content := readCategoryLog(t, dir, CategoryStore)
	assert.Contains(t, content, `"msg":"stored turn 3"`)
	assert.Contains(t, content, `"session":"abc"`)
}

func TestNoopLoggerIsSafe(t *testing.T) {
	var l Logger
	l.Info("nothing %d", 1)
	l.With("k", "v").Error("nothing")
	assert.Equal(t, Category(""), l.category)
}

func TestConcurrentGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "debug"}))
	defer CloseAll()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Get(CategoryWeb).Info("request %d", i)
		}(i)
	}
	wg.Wait()
	CloseAll()

	content := readCategoryLog(t, dir, CategoryWeb)
	assert.Equal(t, 20, strings.Count(content, "request "))
}

func TestTimer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "debug"}))
	defer CloseAll()

	timer := StartTimer(CategoryBackend, "ask")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)
	assert.GreaterOrEqual(t, elapsed, 2*time.Millisecond)
	CloseAll()

	assert.Contains(t, readCategoryLog(t, dir, CategoryBackend), "ask took")
}

func TestHeldLoggerSurvivesReconfigure(t *testing.T) {
	dir := t.TempDir()
	lc := config.LoggingConfig{DebugMode: true, Level: "info"}
	require.NoError(t, Initialize(dir, lc))
	defer CloseAll()

	held := Get(CategoryWidget)
	tagged := held.With("session", "s-9")
	held.Info("before reload")

	lc.Format = "json"
	Reconfigure(lc)
	held.Info("after reload")
	tagged.Info("tagged after reload")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryWidget)
	assert.Contains(t, content, "before reload")
	assert.Contains(t, content, `"msg":"after reload"`)
	assert.Contains(t, content, `"session":"s-9"`)
}

func TestReconfigureAppliesCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	lc := config.LoggingConfig{DebugMode: true, Level: "info"}
	require.NoError(t, Initialize(dir, lc))
	defer CloseAll()

	held := Get(CategoryBackend)
	held.Info("kept")

	lc.Categories = map[string]bool{"backend": false}
	Reconfigure(lc)
	held.Info("filtered out")

	lc.Categories = nil
	lc.Level = "warn"
	Reconfigure(lc)
	held.Info("below level")
	held.Warn("back on")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryBackend)
	assert.Contains(t, content, "kept")
	assert.NotContains(t, content, "filtered out")
	assert.NotContains(t, content, "below level")
	assert.Contains(t, content, "back on")
}

func TestLoggerBeforeInitialize(t *testing.T) {
	CloseAll()
	early := Get(CategoryStore)
	early.Info("dropped")

	dir := t.TempDir()
	require.NoError(t, Initialize(dir, config.LoggingConfig{DebugMode: true, Level: "info"}))
	defer CloseAll()
	early.Info("written once initialized")
	CloseAll()

	assert.Contains(t, readCategoryLog(t, dir, CategoryStore), "written once initialized")
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	assert.Error(t, Initialize("", config.LoggingConfig{}))
}
