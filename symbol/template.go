package symbol

import (
	"strconv"
	"strings"
)

// TemplateArgument is one argument of a template instance.
type TemplateArgument struct {
	Text     string
	IsNumber bool
	Number   int64
}

// ParseTemplateArguments splits the argument list of the innermost
// template in name. "ns::Map<int,Pair<char,4> >" yields "int" and
// "Pair<char,4>". Names without an argument list yield nil.
func ParseTemplateArguments(name string) []TemplateArgument {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ">") {
		return nil
	}

	depth := 0
	open := -1
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '>':
			depth++
		case '<':
			depth--
			if depth == 0 {
				open = i
			}
		}
		if open >= 0 {
			break
		}
	}
	if open < 0 {
		return nil
	}

	var args []TemplateArgument
	body := name[open+1 : len(name)-1]
	start := 0
	depth = 0
	for i := 0; i <= len(body); i++ {
		if i < len(body) {
			switch body[i] {
			case '<', '(', '[':
				depth++
				continue
			case '>', ')', ']':
				depth--
				continue
			case ',':
				if depth > 0 {
					continue
				}
			default:
				continue
			}
		}
		if text := strings.TrimSpace(body[start:i]); text != "" {
			args = append(args, newTemplateArgument(text))
		}
		start = i + 1
	}
	return args
}

func newTemplateArgument(text string) TemplateArgument {
	a := TemplateArgument{Text: text}
	num := strings.TrimRight(text, "uUlL")
	if n, err := strconv.ParseInt(num, 0, 64); err == nil {
		a.IsNumber, a.Number = true, n
	} else if u, err := strconv.ParseUint(num, 0, 64); err == nil {
		a.IsNumber, a.Number = true, int64(u)
	}
	return a
}
