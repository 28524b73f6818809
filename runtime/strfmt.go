package runtime

import (
	"strings"

	"github.com/pkg/errors"
)

// Strfmt renders a template by replacing every {name} with vars[name]. Use
// {{ and }} for literal braces. An unknown name or an unbalanced brace is an
// error.
func Strfmt(tmpl string, vars map[string]string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] != '}' {
				return "", errors.Errorf("unterminated variable at offset %d in %q", i, tmpl)
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			v, ok := vars[name]
			if !ok {
				return "", errors.Errorf("unknown variable %q in %q", name, tmpl)
			}
			sb.WriteString(v)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				sb.WriteByte('}')
				i++
				continue
			}
			return "", errors.Errorf("unmatched '}' at offset %d in %q", i, tmpl)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
