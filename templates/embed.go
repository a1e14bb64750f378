package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var FS embed.FS

var funcs = template.FuncMap{
	"selected": func(a, b string) bool { return a == b },
}

// LoadTemplates parses the setup pages embedded in the binary.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.html")
}
