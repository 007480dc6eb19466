// Package project inspects a checked-out repository and builds a Context
// describing its build tool, module layout, framework, and where each
// annotation-bearing type lives. The RETRIEVE stage runs this once per
// Build, over the working directory gitdriver just populated.
package project

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// BuildTool identifies the build system driving a repository.
type BuildTool string

const (
	Maven       BuildTool = "maven"
	Gradle      BuildTool = "gradle"
	UnknownTool BuildTool = "unknown"
)

// Framework identifies the detected enterprise container and its version.
// The zero value means none was detected.
type Framework struct {
	Name    string
	Version string
}

// Context is everything downstream stages need to know about a checkout.
type Context struct {
	Language  string
	BuildTool BuildTool
	Framework Framework
	Modules   []string

	// AnnotationIndex maps a source file's path (relative to the repo
	// root) to the annotations found at its head.
	AnnotationIndex map[string][]string
}

// sourceRootGlobs are the conventional Maven/Gradle source roots, scanned
// recursively; generated code under target/build is never a glob root so
// it never enters AnnotationIndex.
var sourceRootGlobs = []string{
	"src/main/java/**/*.java",
	"src/test/java/**/*.java",
}

// recognizedAnnotations are the identity-bearing annotations the ranker's
// arch(f) scorer and the framework-context classifier care about.
var recognizedAnnotations = map[string]bool{
	"SpringBootApplication": true,
	"Configuration":         true,
	"Component":             true,
	"Service":               true,
	"Repository":            true,
	"Controller":            true,
	"RestController":        true,
	"Entity":                true,
	"Bean":                  true,
	"Autowired":             true,
	"Test":                  true,
}

var annotationPattern = regexp.MustCompile(`@(\w+)`)

// Analyzer builds a Context for a checked-out repository.
type Analyzer struct {
	// HeadLines bounds how many lines of each source file are scanned for
	// annotations. Annotations on later lines (deep into a large file) are
	// out of scope by design — matches the teacher's head-of-file idiom.
	HeadLines int
}

// NewAnalyzer creates an Analyzer with the default head-scan window.
func NewAnalyzer() *Analyzer {
	return &Analyzer{HeadLines: 60}
}

// Analyze inspects rootDir and returns its Context.
func (a *Analyzer) Analyze(rootDir string) (Context, error) {
	buildTool := detectBuildTool(rootDir)
	modules := detectModules(rootDir, buildTool)
	framework := detectFramework(rootDir)

	sourceFiles, err := enumerateSourceFiles(rootDir)
	if err != nil {
		return Context{}, err
	}

	index, err := a.buildAnnotationIndex(rootDir, sourceFiles)
	if err != nil {
		return Context{}, err
	}

	return Context{
		Language:        "java",
		BuildTool:       buildTool,
		Framework:       framework,
		Modules:         modules,
		AnnotationIndex: index,
	}, nil
}

func detectBuildTool(rootDir string) BuildTool {
	if fileExists(filepath.Join(rootDir, "pom.xml")) {
		return Maven
	}
	if fileExists(filepath.Join(rootDir, "build.gradle")) || fileExists(filepath.Join(rootDir, "build.gradle.kts")) {
		return Gradle
	}
	return UnknownTool
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var (
	mavenModulePattern  = regexp.MustCompile(`<module>([^<]+)</module>`)
	gradleIncludePattern = regexp.MustCompile(`include\s*\(?\s*['"]:?([\w\-:]+)['"]`)
)

func detectModules(rootDir string, tool BuildTool) []string {
	switch tool {
	case Maven:
		data, err := os.ReadFile(filepath.Join(rootDir, "pom.xml"))
		if err != nil {
			return nil
		}
		var modules []string
		for _, m := range mavenModulePattern.FindAllStringSubmatch(string(data), -1) {
			modules = append(modules, strings.TrimSpace(m[1]))
		}
		return modules
	case Gradle:
		for _, name := range []string{"settings.gradle", "settings.gradle.kts"} {
			data, err := os.ReadFile(filepath.Join(rootDir, name))
			if err != nil {
				continue
			}
			var modules []string
			for _, m := range gradleIncludePattern.FindAllStringSubmatch(string(data), -1) {
				modules = append(modules, strings.ReplaceAll(m[1], ":", "/"))
			}
			return modules
		}
	}
	return nil
}

var (
	mavenSpringBootParent = regexp.MustCompile(`<artifactId>spring-boot-starter-parent</artifactId>\s*<version>([^<]+)</version>`)
	mavenSpringBootDep    = regexp.MustCompile(`<groupId>org\.springframework\.boot</groupId>\s*<artifactId>[^<]+</artifactId>\s*<version>([^<]+)</version>`)
	gradleSpringBootPlugin = regexp.MustCompile(`org\.springframework\.boot['"]?\s*(?:\))?\s*version\s*['"]([^'"]+)['"]`)
)

// detectFramework recognizes Spring Boot, the reference enterprise
// framework profile. An unrecognized or absent framework yields the zero
// Framework, per spec: unknown framework produces empty context rather
// than an error.
func detectFramework(rootDir string) Framework {
	for _, name := range []string{"pom.xml", "build.gradle", "build.gradle.kts"} {
		data, err := os.ReadFile(filepath.Join(rootDir, name))
		if err != nil {
			continue
		}
		text := string(data)
		if m := mavenSpringBootParent.FindStringSubmatch(text); m != nil {
			return Framework{Name: "spring-boot", Version: m[1]}
		}
		if m := mavenSpringBootDep.FindStringSubmatch(text); m != nil {
			return Framework{Name: "spring-boot", Version: m[1]}
		}
		if m := gradleSpringBootPlugin.FindStringSubmatch(text); m != nil {
			return Framework{Name: "spring-boot", Version: m[1]}
		}
	}
	return Framework{}
}

// SourceFiles returns the same source file list Analyze scans internally,
// for callers that need to read each file's content themselves (building
// ranker candidates from a checkout Analyze already inspected).
func SourceFiles(rootDir string) ([]string, error) {
	return enumerateSourceFiles(rootDir)
}

// enumerateSourceFiles walks the conventional source roots, returning paths
// relative to rootDir.
func enumerateSourceFiles(rootDir string) ([]string, error) {
	fsys := os.DirFS(rootDir)
	var files []string
	for _, pattern := range sourceRootGlobs {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

// buildAnnotationIndex reads the head of each file and records which
// recognized annotations appear there.
func (a *Analyzer) buildAnnotationIndex(rootDir string, files []string) (map[string][]string, error) {
	index := make(map[string][]string)
	for _, relPath := range files {
		annotations, err := a.scanHeadAnnotations(filepath.Join(rootDir, relPath))
		if err != nil {
			continue // unreadable file does not fail the whole analysis
		}
		if len(annotations) > 0 {
			index[relPath] = annotations
		}
	}
	return index, nil
}

func (a *Analyzer) scanHeadAnnotations(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var found []string

	scanner := bufio.NewScanner(f)
	for lineNum := 0; scanner.Scan() && lineNum < a.HeadLines; lineNum++ {
		line := scanner.Text()
		for _, m := range annotationPattern.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if recognizedAnnotations[name] && !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return found, nil
}
