package injection

import "regexp"

// Category groups rules by the kind of manipulation they look for.
type Category string

const (
	InstructionBypass Category = "instruction_bypass"
	RoleOverride      Category = "role_override"
	EncodingTrick     Category = "encoding_trick"
	OutputSteering    Category = "output_steering"
	PromptExtraction  Category = "prompt_extraction"
)

// Rule scores text matching Regex with Severity, from 0 to 1.
type Rule struct {
	Name     string
	Category Category
	Severity float64
	Regex    *regexp.Regexp
}

func rule(name string, category Category, severity float64, expr string) Rule {
	return Rule{Name: name, Category: category, Severity: severity, Regex: regexp.MustCompile(expr)}
}

var builtin = []Rule{
	rule("ignore_previous", InstructionBypass, 0.95, `(?i)ignore\s+(all\s+)?previous\s+instructions`),
	rule("disregard_prior", InstructionBypass, 0.95, `(?i)disregard\s+(all\s+)?prior\s+(instructions|context|rules)`),
	rule("jailbreak", RoleOverride, 0.9, `\bDAN\b|(?i:do\s+anything\s+now|jailbreak|unrestricted\s+mode)`),
	rule("code_block_system", RoleOverride, 0.9, "(?i)```system"),
	// Any line opening with a role label can smuggle a fake turn into a
	// thread, not just the first one.
	rule("role_prefix", RoleOverride, 0.85, `(?im)^\s*(system|assistant)\s*:\s*`),
	rule("developer_mode", RoleOverride, 0.85, `(?i)(developer|debug|admin|root)\s+mode\s+(enabled|activated|on)`),
	rule("base64_instruction", EncodingTrick, 0.85, `(?i)(decode|execute|follow)\s+(the\s+)?base64`),
	rule("new_instructions", InstructionBypass, 0.8, `(?i)(new|updated|revised)\s+instructions?\s*:`),
	rule("fake_tool_output", RoleOverride, 0.8, `(?i)\[\s*(tool|function)\s+(output|result)\s*\]`),
	rule("reveal_system_prompt", PromptExtraction, 0.8, `(?i)(reveal|print|repeat|show)\s+(me\s+)?(your|the)\s+(system\s+prompt|initial\s+instructions)`),
	rule("response_prefix", OutputSteering, 0.75, `(?i)respond\s+with\s*:\s*(sure|absolutely|of course)`),
	rule("you_are_now", RoleOverride, 0.7, `(?i)you\s+are\s+now\s+(a|an|the)\s+`),
}

// DefaultRules returns a copy of the built-in rules.
func DefaultRules() []Rule {
	return append([]Rule(nil), builtin...)
}
