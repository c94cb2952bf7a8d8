// Package rules evaluates template filter rules against message bodies.
// Patterns are validated when rules are created (see database.CreateRule),
// so evaluation here is exception-free for well-formed rules; anything that
// still fails to compile is treated as a non-match and logged.
package rules

import (
	"log"
	"regexp"

	"github.com/cardrelay/cardrelay/internal/database"
)

// Matches reports whether a message body satisfies a single rule.
//
// Regex-mode patterns compile as written, case-sensitive, and the rule type
// decides whether a hit includes or excludes. Simple-mode patterns are stored
// pre-escaped and compile case-insensitively; their type is implied by the
// mode. A rule that cannot be evaluated never matches.
func Matches(body string, rule database.Rule) bool {
	var re *regexp.Regexp
	var err error

	switch rule.Mode {
	case database.RuleModeRegex:
		re, err = regexp.Compile(rule.Pattern)
	case database.RuleModeSimpleInclude, database.RuleModeSimpleExclude:
		re, err = regexp.Compile("(?i)" + rule.Pattern)
	default:
		log.Printf("rule %d has unknown mode %q, treating as non-match", rule.ID, rule.Mode)
		return false
	}
	if err != nil {
		log.Printf("rule %d pattern %q failed to compile: %v", rule.ID, rule.Pattern, err)
		return false
	}

	isMatch := re.MatchString(body)

	switch rule.Mode {
	case database.RuleModeSimpleInclude:
		return isMatch
	case database.RuleModeSimpleExclude:
		return !isMatch
	default: // regex
		if rule.Type == database.RuleTypeInclude {
			return isMatch
		}
		return !isMatch
	}
}

// Apply filters candidate messages through a template. A nil template, or
// one without active rules, passes everything through untouched. Otherwise a
// message survives only if it satisfies every active rule, evaluated in rule
// order: rules are cumulative filters, not alternatives. Relative order of
// the survivors is preserved.
func Apply(candidates []database.Message, tmpl *database.Template) []database.Message {
	if tmpl == nil {
		return candidates
	}

	active := make([]database.Rule, 0, len(tmpl.Rules))
	for _, rule := range tmpl.Rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	if len(active) == 0 {
		return candidates
	}

	survivors := make([]database.Message, 0, len(candidates))
	for _, msg := range candidates {
		ok := true
		for _, rule := range active {
			if !Matches(msg.SmsContent, rule) {
				ok = false
				break
			}
		}
		if ok {
			survivors = append(survivors, msg)
		}
	}
	return survivors
}
