package collector

import (
	"bufio"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/vibegraph/pkg/types"
)

// parseNote turns a Markdown note into one RawContent. Frontmatter keys
// title, url, source, date and tags are honored; remaining scalar keys land
// in Metadata. An empty note yields nil.
func parseNote(content []byte, path string, modTime time.Time) (*types.RawContent, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, goerr.Wrap(err, "frontmatter parse error", goerr.V("file", path))
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	title := extractString(fm, "title", "")
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	rc := &types.RawContent{
		ID:          extractString(fm, "id", ""),
		Source:      extractString(fm, "source", "notes"),
		URL:         extractString(fm, "url", ""),
		Title:       title,
		Body:        body,
		CollectedAt: extractTimestamp(fm),
	}
	if rc.ID == "" {
		rc.ID = contentID(path, 0, body)
	}
	if rc.CollectedAt.IsZero() {
		rc.CollectedAt = modTime
	}

	if tags := extractTags(fm); len(tags) > 0 {
		rc.Metadata = map[string]string{"tags": strings.Join(tags, ",")}
	}
	for k, v := range fm {
		switch k {
		case "id", "title", "url", "source", "date", "tags":
			continue
		}
		if s, ok := v.(string); ok {
			if rc.Metadata == nil {
				rc.Metadata = make(map[string]string)
			}
			rc.Metadata[k] = s
		}
	}
	return rc, nil
}

// splitFrontmatter separates YAML frontmatter (between --- lines) from the
// body. Text without frontmatter comes back whole with an empty map.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return map[string]interface{}{}, text, nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, "", goerr.Wrap(err, "invalid YAML")
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// extractTags accepts a YAML list or a comma-separated string.
func extractTags(fm map[string]interface{}) []string {
	var tags []string
	switch v := fm["tags"].(type) {
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.ToLower(strings.TrimSpace(s)))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				tags = append(tags, strings.ToLower(s))
			}
		}
	}
	return tags
}

// extractTimestamp reads "date" as a YAML timestamp or one of a few common
// string layouts. Zero when absent or unparseable.
func extractTimestamp(fm map[string]interface{}) time.Time {
	switch v := fm["date"].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func extractString(fm map[string]interface{}, key, defaultVal string) string {
	if s, ok := fm[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return defaultVal
}
