package strategies

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

const mavenTree = `com.example:app:jar:1.0.0
+- org.slf4j:slf4j-api:jar:2.0.7:compile
|  \- org.example:inner:jar:1.0:runtime
+- com.google.guava:guava:jar:jdk-classifier:32.1.2-jre:compile
\- junit:junit:jar:4.13.2:test
   \- org.hamcrest:hamcrest-core:jar:1.3:test (optional)
`

const pomXML = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <parent>
    <groupId>com.example</groupId>
    <artifactId>parent</artifactId>
    <version>2.0.0</version>
  </parent>
  <artifactId>svc</artifactId>
  <description>Service</description>
  <licenses><license><name>Apache-2.0</name></license></licenses>
  <properties>
    <jackson.version>2.15.2</jackson.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>com.fasterxml.jackson.core</groupId>
      <artifactId>jackson-databind</artifactId>
      <version>${jackson.version}</version>
    </dependency>
    <dependency>
      <groupId>org.junit.jupiter</groupId>
      <artifactId>junit-jupiter</artifactId>
      <version>${junit.version}</version>
      <scope>test</scope>
    </dependency>
    <dependency>
      <groupId>javax.servlet</groupId>
      <artifactId>servlet-api</artifactId>
      <version>2.5</version>
      <scope>provided</scope>
    </dependency>
  </dependencies>
</project>`

func TestParseMavenTree(t *testing.T) {
	recs, err := parseMavenTree([]byte(mavenTree), "mvn dependency:tree")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	root := recs[0]
	assert.True(t, root.Root)
	assert.Equal(t, "com.example", root.Group)
	assert.Equal(t, model.ScopeUndefined, root.Scope)
	assert.Equal(t, []string{
		"app@1.0.0", "slf4j-api@2.0.7", "inner@1.0", "guava@32.1.2-jre", "junit@4.13.2", "hamcrest-core@1.3",
	}, flatten(recs))

	expanded, _ := depNames(root)
	assert.Equal(t, []string{"slf4j-api", "guava", "junit"}, expanded)

	guava := findRecord(recs, "guava")
	assert.Equal(t, "jdk-classifier", guava.Qualifiers["classifier"])
	assert.Equal(t, model.ScopeRequired, guava.Scope)

	junit := findRecord(recs, "junit")
	assert.True(t, junit.Dev)
	assert.Equal(t, model.ScopeOptional, junit.Scope)
	hamcrest := findRecord(recs, "hamcrest-core")
	assert.Equal(t, []string{"hamcrest-core"}, func() []string { e, _ := depNames(junit); return e }())
	assert.True(t, hamcrest.Dev)
}

func TestParseMavenTree_Empty(t *testing.T) {
	_, err := parseMavenTree([]byte("\n\n"), "mvn dependency:tree")
	assert.Error(t, err)
}

func TestParseMavenList(t *testing.T) {
	data := `
The following files have been resolved:
   org.slf4j:slf4j-api:jar:2.0.7:compile -- module org.slf4j
   junit:junit:jar:4.13.2:test
`
	recs := parseMavenList([]byte(data), "mvn dependency:list")
	assert.Equal(t, []string{"slf4j-api@2.0.7", "junit@4.13.2"}, flatten(recs))
	assert.Equal(t, "org.slf4j", recs[0].Group)
}

func TestParsePom(t *testing.T) {
	recs, err := parsePom([]byte(pomXML), "pom.xml")
	require.NoError(t, err)
	root := recs[0]
	assert.Equal(t, "com.example", root.Group)
	assert.Equal(t, "svc", root.Name)
	assert.Equal(t, "2.0.0", root.Version)
	assert.Equal(t, "Apache-2.0", root.License)

	assert.Equal(t, []string{"svc@2.0.0", "jackson-databind@2.15.2", "junit-jupiter@", "servlet-api@2.5"}, flatten(recs))
	assert.True(t, findRecord(recs, "junit-jupiter").Dev)
	assert.Equal(t, model.ScopeOptional, findRecord(recs, "servlet-api").Scope)
	assert.Equal(t, model.ScopeRequired, findRecord(recs, "jackson-databind").Scope)
}

func TestMavenExtract_TreeReportInTempDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{"pom.xml": pomXML})
	runner := &fakeRunner{report: map[string]string{"mvn -q -B dependency:tree": mavenTree}}
	res := (&MavenStrategy{}).Extract(context.Background(), dir, newTestEnv(t, runner))

	assert.Equal(t, []State{ToolInvoked, Done}, res.Trace)
	assert.False(t, res.Degraded)
	require.Len(t, runner.calls, 1)

	// The report lived in a scoped temp dir that is gone now.
	var report string
	for _, f := range strings.Fields(runner.calls[0]) {
		if p, ok := strings.CutPrefix(f, "-DoutputFile="); ok {
			report = p
		}
	}
	require.NotEmpty(t, report)
	_, err := os.Stat(report)
	assert.True(t, os.IsNotExist(err))
}

func TestMavenExtract_ListAfterTreeFails(t *testing.T) {
	dir := writeFiles(t, map[string]string{"pom.xml": pomXML})
	runner := &fakeRunner{report: map[string]string{"mvn -q -B dependency:list": "   junit:junit:jar:4.13.2:test\n"}}
	res := (&MavenStrategy{}).Extract(context.Background(), dir, newTestEnv(t, runner))

	assert.Equal(t, []State{ToolInvoked, ToolFailed, ToolInvoked, Done}, res.Trace)
	assert.Equal(t, "mvn dependency:list", res.Step)
	assert.False(t, res.Degraded)
}

func TestMavenExtract_PomFallback(t *testing.T) {
	dir := writeFiles(t, map[string]string{"pom.xml": pomXML, "mvnw": "#!/bin/sh\n"})
	runner := &fakeRunner{}
	res := (&MavenStrategy{}).Extract(context.Background(), dir, newTestEnv(t, runner))

	assert.True(t, res.Degraded)
	assert.Equal(t, "pom.xml", res.Step)
	require.NotEmpty(t, runner.calls)
	assert.True(t, strings.HasPrefix(runner.calls[0], "mvnw "), "the wrapper is preferred over mvn")
}
