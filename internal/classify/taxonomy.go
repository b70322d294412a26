// Package classify turns registry metadata into a category decision using a
// chat-completion model.
package classify

import (
	"encoding/json"
	"regexp"
	"strings"
)

// UnknownCategory is returned when no category can be extracted from a
// model response.
const UnknownCategory = "Unknown"

var categories = []string{
	"VPN",
	"Hosting",
	"ISP",
	"Enterprise",
	"Infrastructure",
}

// Categories returns the closed set of categories in prompt order.
func Categories() []string {
	out := make([]string, len(categories))
	copy(out, categories)
	return out
}

// IsCategory reports whether value is exactly one of the known categories.
func IsCategory(value string) bool {
	for _, category := range categories {
		if category == value {
			return true
		}
	}
	return false
}

// Prompt is the system message that pins the model to the taxonomy.
func Prompt() string {
	return `Classify the Autonomous System into exactly one category:
-VPN: VPN and anonymization providers including exit-nodes
-Hosting: Datacenters,cloud providers,VPS/bare-metal/colo/CDN
-ISP: Residential ISPs,mobile carriers,cable/fiber operators,last-mile providers
-Enterprise: Internal networks for corporations,government,military,universities,research,education
-Infrastructure: Large carriers,Tier-1s,IXPs,route-servers`
}

var (
	labeledCategoryRe = regexp.MustCompile(`(?i)(?:^|\n)\s*-?\s*(?:Category|Classification):\s*(\w+)`)
	definitionListRes = buildDefinitionListRes()
	wordBoundaryRes   = buildWordBoundaryRes()
)

func buildDefinitionListRes() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(categories))
	for _, category := range categories {
		res[category] = regexp.MustCompile(`(?i)(?:^|\n)\s*-\s*` + category + `\s*:`)
	}
	return res
}

func buildWordBoundaryRes() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(categories))
	for _, category := range categories {
		res[category] = regexp.MustCompile(`(?i)\b` + category + `\b`)
	}
	return res
}

// NormalizeCategory extracts a taxonomy category from free-form model
// output. It tries, in order: the exact category, a JSON object with a
// category field, a "Category:"/"Classification:" label, a "- Category:"
// definition list entry, and finally any category mentioned as a whole word
// within the first 100 characters. Anything else is Unknown.
func NormalizeCategory(content string) string {
	trimmed := strings.TrimSpace(content)
	if IsCategory(trimmed) {
		return trimmed
	}
	var structured struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(trimmed), &structured); err == nil && IsCategory(structured.Category) {
		return structured.Category
	}
	if match := labeledCategoryRe.FindStringSubmatch(trimmed); match != nil {
		for _, category := range categories {
			if strings.EqualFold(category, match[1]) {
				return category
			}
		}
	}
	for _, category := range categories {
		if definitionListRes[category].MatchString(trimmed) {
			return category
		}
	}
	prefix := trimmed
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	for _, category := range categories {
		if wordBoundaryRes[category].MatchString(prefix) {
			return category
		}
	}
	return UnknownCategory
}
