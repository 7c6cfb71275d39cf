package orch

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// WorkItem is one unit of implementation work named by the plan.
type WorkItem struct {
	Title string
	Slug  string
}

// Plan is the implementation breakdown parsed from an approved design
// document: an optional foundation item that must merge first, then
// parallel feature items.
type Plan struct {
	Foundation *WorkItem
	Features   []WorkItem
}

var (
	sectionRe = regexp.MustCompile(`(?i)^#{2,3}\s+(foundation|features)\s*$`)
	bulletRe  = regexp.MustCompile(`^[-*]\s+(.+)$`)
	slugRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParsePlan extracts the implementation plan from design document
// text. Sections are "## Foundation" and "## Features"; each bullet
// under them is one work item. A plan with neither a foundation nor
// any features is an error.
func ParsePlan(text string) (*Plan, error) {
	plan := &Plan{}
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := sectionRe.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(m[1])
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = ""
			continue
		}
		if section == "" {
			continue
		}

		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := WorkItem{Title: strings.TrimSpace(m[1])}
		item.Slug = Slugify(item.Title)

		switch section {
		case "foundation":
			if plan.Foundation == nil {
				plan.Foundation = &item
			}
		case "features":
			plan.Features = append(plan.Features, item)
		}
	}

	if plan.Foundation == nil && len(plan.Features) == 0 {
		return nil, fmt.Errorf("plan has no foundation or feature items")
	}
	return plan, nil
}

// Slugify reduces a title to a branch-safe slug.
func Slugify(title string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug
}
