package ingest

import (
	"regexp"
	"strings"
)

// branchKeyRe matches branches named like feature/tos-40-payments and
// captures the issue key portion.
var branchKeyRe = regexp.MustCompile(`(?i)^(?:feature|fix|chore)/([a-z][a-z0-9]*)-(\d+)(?:-|$)`)

// ExtractIssueKey pulls the issue key out of a branch name. Returns
// "" when the branch does not follow the convention. Keys are
// normalised to upper case.
func ExtractIssueKey(branch string) string {
	m := branchKeyRe.FindStringSubmatch(branch)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + "-" + m[2]
}

var (
	bracketedIDRe = regexp.MustCompile(`^\[([^\]]+)\]`)
	uuidTitleRe   = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// ExtractDesignID pulls a design id out of a page title. A bracketed
// prefix like "[abc123] Payments design" wins; otherwise a title that
// is exactly a UUID is taken whole. Returns "" when neither form
// matches.
func ExtractDesignID(title string) string {
	title = strings.TrimSpace(title)
	if m := bracketedIDRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	if uuidTitleRe.MatchString(title) {
		return strings.ToLower(title)
	}
	return ""
}
