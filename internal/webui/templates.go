package webui

import "bytes"

// ConsoleData feeds the playground page template.
type ConsoleData struct {
	Title         string
	HeaderTitle   string
	InitialStatus string
}

// RenderConsole renders the playground page.
func RenderConsole(data ConsoleData) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "console.html", data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
