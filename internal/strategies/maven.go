package strategies

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/model"
	"github.com/StinkyLord/sbom-builder/internal/tempdir"
)

// MavenStrategy extracts Maven dependencies:
//   - mvn dependency:tree (written to a file in a scoped temp dir)
//   - mvn dependency:list
//   - pom.xml (degraded)
//
// A tools.maven override replaces the mvn executable (e.g. "./mvnw");
// the goal arguments are always appended.
type MavenStrategy struct{}

func (s *MavenStrategy) Name() string { return "maven" }

func (s *MavenStrategy) Markers() []string { return []string{"pom.xml"} }

func (s *MavenStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *MavenStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		toolStep("mvn dependency:tree", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			data, err := s.runGoal(ctx, dir, env, "tree.txt", "dependency:tree", "-DoutputType=text")
			if err != nil {
				return nil, err
			}
			return parseMavenTree(data, filepath.Join(dir, "pom.xml"))
		}),
		toolStep("mvn dependency:list", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			data, err := s.runGoal(ctx, dir, env, "list.txt", "dependency:list")
			if err != nil {
				return nil, err
			}
			return parseMavenList(data, filepath.Join(dir, "pom.xml")), nil
		}),
		fallbackStep("pom.xml", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "pom.xml")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parsePom(data, path)
		}),
	})
}

// runGoal runs a dependency plugin goal that writes its report into a
// scoped temp directory and returns the report contents.
func (s *MavenStrategy) runGoal(ctx context.Context, dir string, env *Env, file string, goal ...string) ([]byte, error) {
	exe := []string{"mvn"}
	if fileExists(filepath.Join(dir, "mvnw")) {
		exe = []string{filepath.Join(dir, "mvnw")}
	}
	exe = env.Config.Command(s.Name(), exe...)

	var out []byte
	err := tempdir.With("sbom-maven", func(tmp string) error {
		report := filepath.Join(tmp, file)
		args := append(append(append([]string{}, exe[1:]...), "-q", "-B"), goal...)
		args = append(args, "-DoutputFile="+report)
		env.Log.Debug().Str("ecosystem", s.Name()).Str("dir", dir).Strs("args", args).Msg("invoking native tool")
		if _, err := env.Runner.Run(ctx, dir, exe[0], args...); err != nil {
			return err
		}
		data, err := os.ReadFile(report)
		if err != nil {
			return fmt.Errorf("%w: %s wrote no report: %v", ErrToolFailed, goal[0], err)
		}
		out = data
		return nil
	})
	return out, err
}

// mavenCoord parses "g:a:type:version:scope", "g:a:type:classifier:version:scope"
// and the scope-less root form "g:a:packaging:version".
func mavenCoord(s string) (*model.RawPackageRecord, bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, " "); i > 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ":")
	rec := &model.RawPackageRecord{}
	var scope string
	switch len(parts) {
	case 4:
		rec.Group, rec.Name, rec.Version = parts[0], parts[1], parts[3]
	case 5:
		rec.Group, rec.Name, rec.Version, scope = parts[0], parts[1], parts[3], parts[4]
	case 6:
		rec.Group, rec.Name, rec.Version, scope = parts[0], parts[1], parts[4], parts[5]
		rec.Qualifiers = map[string]string{"classifier": parts[3]}
	default:
		return nil, false
	}
	if t := parts[2]; t != "jar" && len(parts) > 4 {
		if rec.Qualifiers == nil {
			rec.Qualifiers = map[string]string{}
		}
		rec.Qualifiers["type"] = t
	}
	applyMavenScope(rec, scope)
	return rec, rec.Name != ""
}

func applyMavenScope(rec *model.RawPackageRecord, scope string) {
	switch scope {
	case "compile", "runtime":
		rec.Scope = model.ScopeRequired
	case "test":
		rec.Scope = model.ScopeOptional
		rec.Dev = true
	case "provided", "system":
		rec.Scope = model.ScopeOptional
	}
}

// reTreePrefix matches the drawing prefix of a dependency:tree line.
var reTreePrefix = regexp.MustCompile(`^((?:[| ]  )*)[+\\]- `)

func parseMavenTree(data []byte, source string) ([]*model.RawPackageRecord, error) {
	var root *model.RawPackageRecord
	var stack []*model.RawPackageRecord

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r")
		if line == "" {
			continue
		}
		if root == nil {
			rec, ok := mavenCoord(line)
			if !ok {
				continue
			}
			rec.Root = true
			rec.Scope = model.ScopeUndefined
			rec.EvidencePath = source
			root = rec
			stack = []*model.RawPackageRecord{root}
			continue
		}
		m := reTreePrefix.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		depth := len(m[1])/3 + 1
		rec, ok := mavenCoord(line[len(m[0]):])
		if !ok {
			continue
		}
		if depth > len(stack) {
			depth = len(stack)
		}
		stack = stack[:depth]
		stack[depth-1].AddDependency(rec)
		stack = append(stack, rec)
	}
	if root == nil {
		return nil, fmt.Errorf("dependency:tree report is empty")
	}
	return []*model.RawPackageRecord{root}, nil
}

func parseMavenList(data []byte, source string) []*model.RawPackageRecord {
	var out []*model.RawPackageRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.Index(line, " -- "); i > 0 {
			line = line[:i]
		}
		if strings.Count(line, ":") < 4 {
			continue
		}
		if rec, ok := mavenCoord(line); ok {
			rec.EvidencePath = source
			out = append(out, rec)
		}
	}
	return out
}

// ---- pom.xml ----

type pomProject struct {
	GroupID     string `xml:"groupId"`
	ArtifactID  string `xml:"artifactId"`
	Version     string `xml:"version"`
	Description string `xml:"description"`
	URL         string `xml:"url"`
	Parent      struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	} `xml:"parent"`
	Properties struct {
		Entries []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"properties"`
	Licenses []struct {
		Name string `xml:"name"`
	} `xml:"licenses>license"`
	Dependencies []pomDependency `xml:"dependencies>dependency"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
	Classifier string `xml:"classifier"`
	Optional   bool   `xml:"optional"`
}

var rePomProperty = regexp.MustCompile(`\$\{([^}]+)\}`)

func parsePom(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var p pomProject
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.GroupID == "" {
		p.GroupID = p.Parent.GroupID
	}
	if p.Version == "" {
		p.Version = p.Parent.Version
	}

	props := map[string]string{
		"project.groupId":    p.GroupID,
		"project.artifactId": p.ArtifactID,
		"project.version":    p.Version,
		"pom.version":        p.Version,
	}
	for _, e := range p.Properties.Entries {
		props[e.XMLName.Local] = strings.TrimSpace(e.Value)
	}
	// Unresolvable placeholders become empty rather than leaking "${...}".
	expand := func(s string) string {
		s = rePomProperty.ReplaceAllStringFunc(s, func(ref string) string {
			return props[rePomProperty.FindStringSubmatch(ref)[1]]
		})
		return strings.TrimSpace(s)
	}

	root := &model.RawPackageRecord{
		Group:        expand(p.GroupID),
		Name:         expand(p.ArtifactID),
		Version:      expand(p.Version),
		Description:  strings.TrimSpace(p.Description),
		Homepage:     p.URL,
		Root:         true,
		EvidencePath: path,
	}
	if len(p.Licenses) > 0 {
		root.License = strings.TrimSpace(p.Licenses[0].Name)
	}
	for _, d := range p.Dependencies {
		rec := &model.RawPackageRecord{
			Group:   expand(d.GroupID),
			Name:    expand(d.ArtifactID),
			Version: expand(d.Version),
		}
		if d.Classifier != "" {
			rec.Qualifiers = map[string]string{"classifier": d.Classifier}
		}
		scope := d.Scope
		if scope == "" {
			scope = "compile"
		}
		applyMavenScope(rec, scope)
		if d.Optional {
			rec.Scope = model.ScopeOptional
		}
		root.AddDependency(rec)
	}
	return []*model.RawPackageRecord{root}, nil
}
