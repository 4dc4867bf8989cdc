package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"mindmap/api/internal/mindmap"
)

//go:embed templates/*.html
var templateFS embed.FS

var mapTemplate = template.Must(template.New("map.html").Funcs(template.FuncMap{
	"color": func(node mindmap.Node) template.CSS {
		if node.CreatedBy == nil {
			return "#ffffff"
		}
		return template.CSS(mindmap.Color(node.CreatedBy.ID))
	},
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
}).ParseFS(templateFS, "templates/map.html"))

// TemplateData holds data for map template rendering.
type TemplateData struct {
	Title     string
	Root      mindmap.Node
	Owner     string
	UpdatedAt time.Time
	Comments  []TemplateComment
}

type TemplateComment struct {
	Node      string
	Text      string
	Author    string
	CreatedAt time.Time
}

// RenderMapHTML renders the printable page for a map.
func RenderMapHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := mapTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
