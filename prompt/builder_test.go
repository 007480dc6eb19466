package prompt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhaseeb85/jenkins-genie/prompt"
)

func TestBuild_RendersSystemAndUserMessages(t *testing.T) {
	msgs, err := prompt.Build(prompt.Input{
		ErrorSummary:   "cannot find symbol: variable barService",
		ProjectSummary: "Maven project, Spring Boot 3.2.1, module service-a",
		FilePath:       "src/main/java/com/example/FooService.java",
		FileContent:    "public class FooService {}",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "unified diff only")

	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "cannot find symbol")
	assert.Contains(t, msgs[1].Content, "FooService.java")
	assert.Contains(t, msgs[1].Content, "public class FooService")
	assert.NotContains(t, msgs[1].Content, "previous response")
}

func TestBuild_IncludesRegenerationHint(t *testing.T) {
	msgs, err := prompt.Build(prompt.Input{
		ErrorSummary:     "cannot find symbol",
		ProjectSummary:   "Maven project",
		FilePath:         "Foo.java",
		FileContent:      "class Foo {}",
		RegenerationHint: "diff contained zero hunks",
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "diff contained zero hunks")
}

func TestBuild_RejectsOversizedFile(t *testing.T) {
	_, err := prompt.Build(prompt.Input{
		FilePath:    "Big.java",
		FileContent: strings.Repeat("a", prompt.MaxFileBytes+1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, prompt.ErrFileTooLarge)
}

func TestBuild_AllowsExactlyMaxSize(t *testing.T) {
	_, err := prompt.Build(prompt.Input{
		FilePath:    "Exact.java",
		FileContent: strings.Repeat("a", prompt.MaxFileBytes),
	})
	require.NoError(t, err)
}
