package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	maxFiles        = 10
	maxFilePerCap   = 100 << 10 // 100 KiB
	maxTotalCap     = 500 << 10 // 500 KiB
)

// projectRootFiles is the fixed list auto-read for a directory path.
var projectRootFiles = []string{
	"package.json", "Cargo.toml", "go.mod", "pyproject.toml", "pom.xml",
	"README.md", "README", "Makefile",
}

// priorityTable ranks file names/extensions from highest (manifests) to
// lowest (docs last), per spec.md §4.2's fixed priority ordering.
var priorityTable = []struct {
	match    func(name string) bool
	priority int
}{
	{match: nameIn("go.mod", "package.json", "Cargo.toml", "pyproject.toml", "pom.xml", "go.sum"), priority: 0},
	{match: extIn(".go", ".rs", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".c", ".cpp", ".h"), priority: 1},
	{match: extIn(".md", ".txt", ".rst"), priority: 2},
}

func nameIn(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[filepath.Base(name)] }
}

func extIn(exts ...string) func(string) bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return func(name string) bool { return set[strings.ToLower(filepath.Ext(name))] }
}

func priorityOf(name string) int {
	for _, p := range priorityTable {
		if p.match(name) {
			return p.priority
		}
	}
	return len(priorityTable) // docs/unknown last
}

// pathPattern extracts quoted, Windows-style, and Unix-style path-looking
// tokens from free text: "some/path.go", `C:\foo\bar.txt`, or bare
// relative paths containing at least one separator or a recognized
// extension.
var pathPattern = regexp.MustCompile(`(?:"([^"]+)"|'([^']+)'|` + "`" + `([^` + "`" + `]+)` + "`" + `|([\w.-]+(?:[\\/][\w.-]*)+|[\w.-]+\.\w{1,8}))`)

// ExtractPaths pulls candidate file/directory paths out of a free-text
// prompt, deduplicated and in first-seen order.
func ExtractPaths(prompt string) []string {
	matches := pathPattern.FindAllStringSubmatch(prompt, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if seen[g] {
				continue
			}
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// Loader reads file context for prompt-referenced paths, sandboxed the
// same way toolkit/file.Tool resolves paths: no absolute paths, no ".."
// traversal, resolution must stay within workspacePath.
type Loader struct {
	workspacePath string
}

// NewLoader builds a Loader rooted at workspacePath.
func NewLoader(workspacePath string) *Loader {
	return &Loader{workspacePath: workspacePath}
}

// Load extracts paths referenced in prompt, expands any directory
// references to their project-root manifest/readme files, sorts by the
// fixed priority table, and reads up to maxFiles entries within the
// per-file and total size caps, rendering a markdown block with
// language-tagged fenced code per file.
func (l *Loader) Load(prompt string) string {
	candidates := ExtractPaths(prompt)

	var files []string
	for _, c := range candidates {
		resolved, err := l.resolvePath(c)
		if err != nil {
			continue
		}
		info, err := os.Stat(resolved)
		if err != nil {
			continue
		}
		if info.IsDir() {
			for _, rootFile := range projectRootFiles {
				if _, err := os.Stat(filepath.Join(resolved, rootFile)); err == nil {
					files = append(files, filepath.Join(c, rootFile))
				}
			}
			continue
		}
		files = append(files, c)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return priorityOf(files[i]) < priorityOf(files[j])
	})

	var b strings.Builder
	var total int
	read := 0
	for _, f := range files {
		if read >= maxFiles || total >= maxTotalCap {
			break
		}
		resolved, err := l.resolvePath(f)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		if len(data) > maxFilePerCap {
			data = data[:maxFilePerCap]
		}
		if total+len(data) > maxTotalCap {
			data = data[:maxTotalCap-total]
		}
		if len(data) == 0 {
			continue
		}
		total += len(data)
		read++
		fmt.Fprintf(&b, "`%s`:\n```%s\n%s\n```\n\n", f, languageTag(f), string(data))
	}

	return strings.TrimSpace(b.String())
}

func (l *Loader) resolvePath(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid path: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(l.workspacePath, path)
	if resolved != l.workspacePath && !strings.HasPrefix(resolved, l.workspacePath+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func languageTag(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rs":
		return "rust"
	case ".json":
		return "json"
	case ".md":
		return "markdown"
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}
