package prompt

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/glowworks/atelier/errors"
)

// DefaultTemplates is the built-in fallback used when no template
// directory is configured.
var DefaultTemplates = map[string][]string{
	"default": {
		"studio portrait of {persona}, professional lighting, editorial style",
		"candid shot of {persona}, natural light, shallow depth of field",
	},
}

// LoadTemplates reads persona templates from dir. Each *.txt file
// holds the templates for one persona (filename without extension),
// one template per non-empty line; lines starting with # are
// comments.
func LoadTemplates(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading template directory %s", dir)
	}

	templates := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}

		persona := strings.TrimSuffix(entry.Name(), ".txt")
		lines, err := readTemplateFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			return nil, errors.Newf("template file for persona %q contains no templates", persona)
		}
		templates[persona] = lines
	}

	if len(templates) == 0 {
		return nil, errors.Newf("no template files found in %s", dir)
	}
	return templates, nil
}

func readTemplateFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening template file %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading template file %s", path)
	}
	return lines, nil
}
