// Package proctitle names the running process after the project it serves.
package proctitle

import "strings"

// ForProject returns the title of a process serving project.
func ForProject(project string) string {
	project = strings.TrimSpace(project)
	if project == "" {
		return "cloudctl"
	}
	// "@scope/name" reads better as "name" in a 15 byte comm.
	if i := strings.LastIndex(project, "/"); i >= 0 && i < len(project)-1 {
		project = project[i+1:]
	}
	return "cloud:" + project
}

// Normalize trims title and replaces control characters with spaces.
func Normalize(title string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, title))
}
