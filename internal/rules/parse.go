package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse compiles the rules in contents. Extra parsers are tried before the
// built-in ones.
func Parse(contents string, extra ...Parser) ([]Rule, error) {
	parsers := append(append([]Parser(nil), extra...), regexParser{}, phraseParser{})

	lines := strings.Split(contents, "\n")
	out := make([]Rule, 0, len(lines))
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

type phraseParser struct{}

func (phraseParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

// Parse builds a case-insensitive phrase rule. Word characters at either end of
// the phrase are anchored to word boundaries so "cat" does not rewrite "catalog".
func (phraseParser) Parse(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("phrase rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	pattern = strings.Join(strings.Fields(pattern), `\s+`)
	if first, _ := utf8.DecodeRuneInString(from); isWordRune(first) {
		pattern = `\b` + pattern
	}
	if last, _ := utf8.DecodeLastRuneInString(from); isWordRune(last) {
		pattern += `\b`
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phrase: %w", err)
	}
	return phraseRule{re: re, replacement: to}, nil
}

type phraseRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r phraseRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type regexParser struct{}

func (regexParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isDelimiterExcluded(line[1])
}

func (regexParser) Parse(line string) (Rule, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	// Matching is always case-insensitive.
	prefix := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(prefix, flag) {
				prefix += string(flag)
			}
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

// readDelimited reads up to the next unescaped delim. Escapes other than \delim
// are kept for the regexp compiler.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start > len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	for index := start; index < len(line); index++ {
		char := line[index]
		if char == '\\' && index+1 < len(line) {
			next := line[index+1]
			if next != delim {
				builder.WriteByte(char)
			}
			builder.WriteByte(next)
			index++
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isDelimiterExcluded(char byte) bool {
	return char < utf8.RuneSelf && (isWordRune(rune(char)) || unicode.IsSpace(rune(char)) || char == '\\')
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
