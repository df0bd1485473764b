package evaluator

import (
	"strconv"
	"strings"

	"github.com/openkoi/openkoi/internal/skills"
	"github.com/openkoi/openkoi/internal/task"
)

// parsed holds the structured pieces extracted from a judge response.
type parsed struct {
	Dimensions []task.DimensionScore
	Findings   []task.Finding
	Suggestion string
}

// parseJudgeResponse extracts dimension scores, findings and a
// suggestion from the judge's plain-text response format:
//
//	SCORES:
//	dimension_name: 0.85
//	FINDINGS:
//	- [SEVERITY] title: description
//	SUGGESTION: one line
//
// Dimensions not declared by the skill are dropped; declared dimensions
// the judge omitted score a conservative 0.5 so a silent omission never
// inflates the aggregate. Scores are clamped to [0,1].
func parseJudgeResponse(content string, declared []skills.Dimension) parsed {
	var p parsed
	scores := make(map[string]float64)

	section := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SCORES:"):
			section = "scores"
			continue
		case strings.HasPrefix(upper, "FINDINGS:"):
			section = "findings"
			continue
		case strings.HasPrefix(upper, "SUGGESTION:"):
			p.Suggestion = strings.TrimSpace(line[len("SUGGESTION:"):])
			section = ""
			continue
		}

		switch section {
		case "scores":
			if name, score, ok := parseScoreLine(line); ok {
				scores[name] = score
			}
		case "findings":
			if f, ok := parseFindingLine(line); ok {
				p.Findings = append(p.Findings, f)
			}
		}
	}

	for _, d := range declared {
		score, ok := scores[d.Name]
		if !ok {
			score = 0.5
		}
		p.Dimensions = append(p.Dimensions, task.DimensionScore{
			Dimension: d.Name,
			Score:     clamp01(score),
			Weight:    d.Weight,
		})
	}
	return p
}

func parseScoreLine(line string) (name string, score float64, ok bool) {
	name, value, found := strings.Cut(line, ":")
	if !found {
		return "", 0, false
	}
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "-"))
	name = strings.TrimSpace(name)
	score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || name == "" {
		return "", 0, false
	}
	return name, score, true
}

// parseFindingLine parses "- [SEVERITY] title: description". Lines with
// an unknown severity are kept as suggestions rather than dropped.
func parseFindingLine(line string) (task.Finding, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
	if !strings.HasPrefix(line, "[") {
		return task.Finding{}, false
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return task.Finding{}, false
	}

	sev, err := task.ParseSeverity(line[1:end])
	if err != nil {
		sev = task.SeveritySuggestion
	}

	rest := strings.TrimSpace(line[end+1:])
	title, desc, found := strings.Cut(rest, ":")
	if !found {
		title, desc = rest, ""
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return task.Finding{}, false
	}
	return task.NewFinding(sev, "", title, strings.TrimSpace(desc)), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
