package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/integration"
)

// fakeProject records source roots. Other methods are not used.
type fakeProject struct {
	host.Project
	root  string
	roots map[string][]string
}

func (p *fakeProject) Root() string { return p.root }

func (p *fakeProject) SetSourceRoots(id string, roots []string) {
	p.roots[id] = roots
}

func newFake(t *testing.T, files map[string]string, dirs ...string) *fakeProject {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return &fakeProject{root: root, roots: map[string][]string{}}
}

func TestGradle(t *testing.T) {
	p := newFake(t, map[string]string{
		"settings.gradle.kts":  `include(":app", ":lib:core")`,
		"build.gradle.kts":     ``,
		"app/build.gradle.kts": `sourceSets { main { java.srcDirs("src/gen/java") } }`,
	}, "src/main/java", "app/src/main/java", "app/src/gen/java", "lib/core/src/test/java")

	require.NoError(t, integration.Gradle{}.Refresh(context.Background(), p))
	assert.ElementsMatch(t, []string{
		filepath.Join(p.root, "src/main/java"),
		filepath.Join(p.root, "app/src/main/java"),
		filepath.Join(p.root, "app/src/gen/java"),
		filepath.Join(p.root, "lib/core/src/test/java"),
	}, p.roots["gradle"])
}

func TestGradleNotApplicable(t *testing.T) {
	p := newFake(t, nil, "src/main/java")
	require.NoError(t, integration.Gradle{}.Refresh(context.Background(), p))
	assert.Contains(t, p.roots, "gradle")
	assert.Empty(t, p.roots["gradle"])
}

func TestMaven(t *testing.T) {
	p := newFake(t, map[string]string{
		"pom.xml": `<project>
  <modules><module>core</module></modules>
</project>`,
		"core/pom.xml": `<project>
  <build><sourceDirectory>src/java</sourceDirectory></build>
</project>`,
	}, "src/main/java", "core/src/java", "core/src/test/java")

	require.NoError(t, integration.Maven{}.Refresh(context.Background(), p))
	assert.ElementsMatch(t, []string{
		filepath.Join(p.root, "src/main/java"),
		filepath.Join(p.root, "core/src/java"),
		filepath.Join(p.root, "core/src/test/java"),
	}, p.roots["maven"])
}

func TestMavenMalformed(t *testing.T) {
	p := newFake(t, map[string]string{"pom.xml": `<project><build>`})
	err := integration.Maven{}.Refresh(context.Background(), p)
	assert.Error(t, err)
	assert.NotContains(t, p.roots, "maven")
}
