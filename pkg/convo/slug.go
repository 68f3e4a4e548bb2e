package convo

import "strings"

// Slug maps a project working directory to the directory-safe name used
// under <configRoot>/projects/<slug>/: every character that is not
// alphanumeric becomes '-'.
func Slug(projectCWD string) string {
	var b strings.Builder
	b.Grow(len(projectCWD))
	for _, r := range projectCWD {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
