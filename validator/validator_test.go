package validator_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhaseeb85/jenkins-genie/project"
	"github.com/uhaseeb85/jenkins-genie/validator"
)

// writeWrapper writes an executable shell script at dir/name that echoes
// stdout, writes stderr, and exits with code, standing in for a real mvnw
// or gradlew without requiring either build tool to be installed.
func writeWrapper(t *testing.T, dir, name, stdout, stderr string, code int) {
	t.Helper()
	script := "#!/bin/sh\n"
	if stdout != "" {
		script += "printf '%s\\n' " + shellQuote(stdout) + "\n"
	}
	if stderr != "" {
		script += "printf '%s\\n' " + shellQuote(stderr) + " 1>&2\n"
	}
	script += "exit " + itoa(code) + "\n"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestCompile_SuccessCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "mvnw", "BUILD SUCCESS", "", 0)

	v := validator.New(10 * time.Second)
	result, err := v.Compile(context.Background(), dir, project.Maven)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "BUILD SUCCESS")
	assert.Equal(t, validator.StageCompile, result.Stage)
}

func TestCompile_NonZeroExitCapturesFailureOutput(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "mvnw", "", "cannot find symbol: variable barService", 1)

	v := validator.New(10 * time.Second)
	result, err := v.Compile(context.Background(), dir, project.Maven)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "cannot find symbol")
}

func TestCompile_PrefersWrapperScriptOverBareBinary(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "gradlew", "used wrapper", "", 0)

	v := validator.New(10 * time.Second)
	result, err := v.Compile(context.Background(), dir, project.Gradle)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "used wrapper")
}

func TestCompile_TimesOutAndKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mvnw"), []byte(script), 0755))

	v := validator.New(50 * time.Millisecond)
	_, err := v.Compile(context.Background(), dir, project.Maven)
	require.Error(t, err)
	assert.True(t, validator.IsTimeout(err))
}

func TestTest_DetectsSpringContextStarted(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "mvnw", "Started FooApplication in 2.345 seconds", "", 0)

	v := validator.New(10 * time.Second)
	result, err := v.Test(context.Background(), dir, project.Maven)
	require.NoError(t, err)
	require.NotNil(t, result.SpringContextLoaded)
	assert.True(t, *result.SpringContextLoaded)
}

func TestTest_DetectsSpringContextFailedToStart(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "mvnw", "", "APPLICATION FAILED TO START", 1)

	v := validator.New(10 * time.Second)
	result, err := v.Test(context.Background(), dir, project.Maven)
	require.NoError(t, err)
	require.NotNil(t, result.SpringContextLoaded)
	assert.False(t, *result.SpringContextLoaded)
}

func TestTest_NoSpringSignalLeavesContextNil(t *testing.T) {
	dir := t.TempDir()
	writeWrapper(t, dir, "mvnw", "some unrelated output", "", 0)

	v := validator.New(10 * time.Second)
	result, err := v.Test(context.Background(), dir, project.Maven)
	require.NoError(t, err)
	assert.Nil(t, result.SpringContextLoaded)
}

func TestCompile_UnsupportedBuildToolErrors(t *testing.T) {
	dir := t.TempDir()
	v := validator.New(10 * time.Second)
	_, err := v.Compile(context.Background(), dir, project.UnknownTool)
	require.Error(t, err)
}

func TestSkipped_ReturnsSentinelResult(t *testing.T) {
	result := validator.Skipped(validator.StageTest)
	assert.True(t, result.Skipped)
	assert.Equal(t, -1, result.ExitCode)
	assert.False(t, result.Success())
	assert.Equal(t, validator.StageTest, result.Stage)
}

func TestRun_OutputTruncatedTo300Lines(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\ni=0\nwhile [ $i -lt 305 ]; do\n  echo \"line $i\"\n  i=$((i+1))\ndone\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mvnw"), []byte(script), 0755))

	v := validator.New(10 * time.Second)
	result, err := v.Compile(context.Background(), dir, project.Maven)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n")
	assert.Len(t, lines, 300)
	assert.Equal(t, "line 5", lines[0])
	assert.Equal(t, "line 304", lines[len(lines)-1])
}
