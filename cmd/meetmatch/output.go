package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"meetmatch/internal/format"
	"meetmatch/internal/service"
)

// document is one rendering bound for stdout or a file.
type document struct {
	style   format.Style
	suffix  string
	content string
}

var unsafeNameRe = regexp.MustCompile(`[^\w]+`)

func parseStyles(s string) ([]format.Style, error) {
	if strings.EqualFold(strings.TrimSpace(s), "both") {
		return []format.Style{format.StyleLong, format.StyleShort}, nil
	}
	st, err := format.ParseStyle(s)
	if err != nil {
		return nil, err
	}
	return []format.Style{st}, nil
}

func renderOne(res *service.Result, styles []format.Style, suffix string) []document {
	docs := make([]document, 0, len(styles))
	for _, st := range styles {
		docs = append(docs, document{style: st, suffix: suffix, content: format.Render(res.Consolidated, st)})
	}
	return docs
}

func renderBoth(both *service.BothResult, styles []format.Style) []document {
	docs := make([]document, 0, 2*len(styles))
	for _, st := range styles {
		var b strings.Builder
		b.WriteString(heading(st, "Who can help me most"))
		b.WriteString(format.Render(both.GetValue.Consolidated, st))
		b.WriteString("\n")
		b.WriteString(heading(st, "Who I can help most"))
		b.WriteString(format.Render(both.GiveValue.Consolidated, st))
		b.WriteString("\n")
		b.WriteString(format.RenderOverlap(both.Overlap, st))
		docs = append(docs, document{style: st, suffix: "_both", content: b.String()})
	}
	return docs
}

func heading(st format.Style, title string) string {
	if st == format.StyleShort {
		return "*" + title + "*\n"
	}
	return "# " + title + "\n\n"
}

// writeDocuments saves docs as <timestamp>_<name>_recommendations<suffix>
// with .md for long and .txt for short renderings.
func writeDocuments(dir, name string, now time.Time, docs []document) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	clean := strings.Trim(unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	base := fmt.Sprintf("%s_%s_recommendations", now.Format("20060102_150405"), clean)
	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		ext := ".md"
		if d.style == format.StyleShort {
			ext = ".txt"
		}
		p := filepath.Join(dir, base+d.suffix+ext)
		if err := os.WriteFile(p, []byte(d.content), 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
