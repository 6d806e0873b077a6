package webui

import (
	"strings"
	"testing"
)

func TestConsoleTemplateRendering(t *testing.T) {
	data := ConsoleData{
		Title:         "Test Playground",
		HeaderTitle:   "termbridge test",
		InitialStatus: "connecting",
	}

	page, err := RenderConsole(data)
	if err != nil {
		t.Fatalf("Failed to render console template: %v", err)
	}

	content := string(page)
	expectedElements := []string{
		"Test Playground",
		"termbridge test",
		"connecting",
		"/api/sessions",
		"/terminal",
		"key_code",
	}
	for _, element := range expectedElements {
		if !strings.Contains(content, element) {
			t.Errorf("Rendered console template missing expected element: %s", element)
		}
	}
}

func TestTemplateIntegrity(t *testing.T) {
	if templates == nil {
		t.Fatal("templates is nil")
	}
	if templates.Lookup("console.html") == nil {
		t.Error("Required template console.html not found")
	}
}
