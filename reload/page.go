package reload

import (
	"bufio"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/devreload/compiler"
)

// snippetContext is the number of lines shown around a diagnostic.
const snippetContext = 3

type snippetKey struct {
	path  string
	mtime int64
}

// SnippetLine is one line of source shown under a diagnostic.
type SnippetLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Marked bool   `json:"marked,omitempty"`
}

type pageDiagnostic struct {
	compiler.Diagnostic
	Snippet []SnippetLine `json:"snippet,omitempty"`
}

type pageData struct {
	Summary     string           `json:"summary"`
	Cycle       string           `json:"cycle"`
	At          time.Time        `json:"at"`
	SourceFiles []string         `json:"sourceFiles"`
	Diagnostics []pageDiagnostic `json:"diagnostics"`
}

// Page renders a DeploymentProblem as an HTML diagnostic page, or as JSON
// when the client asks for it.
type Page struct {
	files  *lru.Cache[snippetKey, []string]
	logger *slog.Logger
	logs   rate.Sometimes
}

// NewPage creates a Page.
func NewPage(logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	files, _ := lru.New[snippetKey, []string](64)
	return &Page{
		files:  files,
		logger: logger,
		logs:   rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Serve writes the problem with status 500.
func (p *Page) Serve(w http.ResponseWriter, r *http.Request, problem *DeploymentProblem) {
	p.logs.Do(func() {
		p.logger.Warn("serving compilation problem page", "path", r.URL.Path, "problem", problem.Summary())
	})

	data := p.data(problem)
	w.Header().Set("Cache-Control", "no-store")
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(data)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	if err := pageTemplate.Execute(w, data); err != nil {
		p.logger.Error("render problem page", "err", err)
	}
}

func (p *Page) data(problem *DeploymentProblem) pageData {
	d := pageData{
		Summary:     problem.Summary(),
		Cycle:       problem.Cycle.String(),
		At:          problem.At,
		SourceFiles: problem.SourceFiles,
	}
	for _, diag := range problem.Diagnostics {
		d.Diagnostics = append(d.Diagnostics, pageDiagnostic{
			Diagnostic: diag,
			Snippet:    p.snippet(diag.SourceFile, diag.Line),
		})
	}
	return d
}

// snippet returns the lines around line in path, or nil when the file cannot
// be read.
func (p *Page) snippet(path string, line int) []SnippetLine {
	if path == "" || line <= 0 {
		return nil
	}
	lines, ok := p.lines(path)
	if !ok || line > len(lines) {
		return nil
	}
	from := max(1, line-snippetContext)
	to := min(len(lines), line+snippetContext)
	out := make([]SnippetLine, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, SnippetLine{Number: n, Text: lines[n-1], Marked: n == line})
	}
	return out
}

func (p *Page) lines(path string) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	key := snippetKey{path: path, mtime: info.ModTime().UnixNano()}
	if lines, ok := p.files.Get(key); ok {
		return lines, true
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if sc.Err() != nil {
		return nil, false
	}
	p.files.Add(key, lines)
	return lines, true
}

var pageTemplate = template.Must(template.New("problem").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Compilation failed</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { color: #b00020; }
.diag { border-left: 4px solid #b00020; padding: 0.5em 1em; margin: 1em 0; background: #fafafa; }
.diag.warning { border-color: #e0a000; }
pre { background: #f0f0f0; padding: 0.5em; overflow-x: auto; }
.marked { background: #ffd7d7; display: block; }
.meta { color: #666; font-size: 0.9em; }
</style>
</head>
<body>
<h1>Compilation failed</h1>
<p>{{.Summary}}</p>
<p class="meta">cycle {{.Cycle}} at {{.At.Format "15:04:05"}}</p>
{{range .Diagnostics}}
<div class="diag {{.Kind}}">
<strong>{{.Kind}}</strong>{{if .SourceFile}} in <code>{{.SourceFile}}{{if .Line}}:{{.Line}}{{end}}</code>{{end}}
<pre>{{.Message}}</pre>
{{if .Snippet}}<pre>{{range .Snippet}}<span{{if .Marked}} class="marked"{{end}}>{{printf "%5d" .Number}}  {{.Text}}</span>
{{end}}</pre>{{end}}
</div>
{{end}}
<p class="meta">Fix the error and reload the page.</p>
<script>
(function() {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/__devreload/livereload");
  ws.onmessage = function(e) {
    var ev = JSON.parse(e.data);
    if (ev.type === "reload") { location.reload(); }
  };
})();
</script>
</body>
</html>
`))
