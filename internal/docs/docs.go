// Package docs serves the OpenAPI description of the playback API and a
// reference page that renders it.
package docs

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var specYAML []byte

const (
	PagePath = "/api/docs"
	SpecPath = "/api/docs/openapi.yaml"
)

// pageCSP loosens the API's CSP so the viewer script can load from the CDN.
const pageCSP = "default-src 'self'; " +
	"script-src 'self' https://cdn.jsdelivr.net 'unsafe-inline'; " +
	"style-src 'self' https://cdn.jsdelivr.net 'unsafe-inline'; " +
	"font-src 'self' https://cdn.jsdelivr.net data:; " +
	"img-src 'self' data:; connect-src 'self'; frame-ancestors 'none';"

var pageTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html><head>
  <title>{{.Title}}</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
</head><body>
  <script id="api-reference" data-url="{{.SpecURL}}"></script>
  <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body></html>`))

type Options struct {
	// Version replaces info.version when set.
	Version string
	// BaseURL becomes the only advertised server when set.
	BaseURL string
}

// Reference is the rendered document and page, built once at startup.
type Reference struct {
	spec []byte
	page []byte
}

func New(opts Options) (*Reference, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(specYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse openapi document: empty document")
	}
	root := doc.Content[0]

	if opts.Version != "" {
		setValue(root, []string{"info", "version"}, scalar(opts.Version))
	}
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		server := &yaml.Node{Kind: yaml.MappingNode}
		setValue(server, []string{"url"}, scalar(base))
		setValue(root, []string{"servers"}, &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{server}})
	}

	var spec bytes.Buffer
	enc := yaml.NewEncoder(&spec)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}

	title := "API"
	if n := lookup(root, "info", "title"); n != nil && n.Value != "" {
		title = n.Value
	}
	var page bytes.Buffer
	err := pageTemplate.Execute(&page, struct{ Title, SpecURL string }{
		Title:   title + " Reference",
		SpecURL: SpecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("render docs page: %w", err)
	}

	return &Reference{spec: spec.Bytes(), page: page.Bytes()}, nil
}

func (ref *Reference) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(ref.spec)
}

func (ref *Reference) ServePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Security-Policy", pageCSP)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(ref.page)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func lookup(node *yaml.Node, path ...string) *yaml.Node {
	for _, key := range path {
		if node == nil || node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		node = next
	}
	return node
}

// setValue replaces or appends the value at path, creating mappings on the way.
func setValue(node *yaml.Node, path []string, value *yaml.Node) {
	if node.Kind != yaml.MappingNode || len(path) == 0 {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			node.Content[i+1] = value
			return
		}
		setValue(node.Content[i+1], path[1:], value)
		return
	}
	child := value
	if len(path) > 1 {
		child = &yaml.Node{Kind: yaml.MappingNode}
		setValue(child, path[1:], value)
	}
	node.Content = append(node.Content, scalar(path[0]), child)
}
