package processor

import (
	"bytes"
	"go/ast"
	"go/token"
	"strings"

	"github.com/jhump/annoboot/parser"
)

// extracted holds the annotation text found in a comment group.
type extracted struct {
	group *ast.CommentGroup
	// index into group.List of the first comment that holds annotation text
	first    int
	text     *bytes.Buffer
	adjuster posAdjuster
}

// extractAnnotations returns the annotation text in the given comments. The
// text starts at the first line whose first non-space character is "@" and
// runs to the end of the group, so an annotation's option list may span lines.
// Switching between line and block comments restarts the search.
func extractAnnotations(fset *token.FileSet, doc *ast.CommentGroup) *extracted {
	if doc == nil {
		return nil
	}
	var buf bytes.Buffer
	var adjuster posAdjuster
	found := false
	first := -1
	prevSingleLine := false
	var pos token.Position
	for i, l := range doc.List {
		txt := l.Text
		singleLine := false
		if strings.HasPrefix(txt, "/*") {
			txt = txt[2:]
			if strings.HasSuffix(txt, "*/") {
				txt = txt[:len(txt)-2]
			}
		} else if strings.HasPrefix(txt, "//") {
			singleLine = true
			txt = txt[2:]
		}

		if singleLine != prevSingleLine {
			found = false
			first = -1
			buf.Reset()
			prevSingleLine = singleLine
			adjuster = nil
		}

		pos = fset.Position(l.Slash)
		// skip past opening "//" or "/*"
		pos.Offset += 2
		pos.Column += 2

		for _, line := range strings.Split(txt, "\n") {
			trimmed := strings.TrimSpace(line)
			if !found && trimmed != "" && trimmed[0] == '@' {
				found = true
				first = i
			}
			if found {
				adjuster = append(adjuster, posAdj{outOffset: buf.Len(), inPos: pos})
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
			pos.Offset += len(line) + 1
			pos.Line++
			pos.Column = 1
		}

		// set this so we can record end of input as the last entry in adjuster
		pos = fset.Position(l.End())
	}
	if !found {
		return nil
	}
	adjuster = append(adjuster, posAdj{outOffset: buf.Len(), inPos: pos})
	return &extracted{group: doc, first: first, text: &buf, adjuster: adjuster}
}

// parse parses the extracted text. Errors are reported at their location in
// the source file.
func (e *extracted) parse() ([]parser.Annotation, *ErrorWithPosition) {
	annos, err := parser.ParseAnnotations(e.adjuster.filename(), bytes.NewReader(e.text.Bytes()))
	if err != nil {
		return nil, NewErrorWithPosition(ErrSyntax, e.adjuster.adjustPosition(err.Pos()), err.Underlying())
	}
	for i := range annos {
		a := &annos[i]
		a.Pos = e.adjuster.adjustPosition(a.Pos)
		a.Type.Pos = e.adjuster.adjustPosition(a.Type.Pos)
		for j := range a.Options {
			o := &a.Options[j]
			o.NamePos = e.adjuster.adjustPosition(o.NamePos)
			o.ValuePos = e.adjuster.adjustPosition(o.ValuePos)
		}
	}
	return annos, nil
}

// strip removes the comments holding annotation text from the group. Blank
// comment lines left dangling at the end of the group are removed, too. It
// returns the position of the first removed comment.
func (e *extracted) strip() token.Pos {
	list := e.group.List[:e.first]
	for len(list) > 0 && strings.TrimSpace(strings.TrimPrefix(list[len(list)-1].Text, "//")) == "" {
		list = list[:len(list)-1]
	}
	removed := e.group.List[len(list)].Pos()
	e.group.List = list
	return removed
}

type posAdj struct {
	outOffset int
	inPos     token.Position
}

type posAdjuster []posAdj

func (a posAdjuster) filename() string {
	if len(a) == 0 {
		return ""
	}
	return a[0].inPos.Filename
}

// adjustPosition maps a position in extracted text back to the source file.
func (a posAdjuster) adjustPosition(pos token.Position) token.Position {
	if pos.Line < 1 || pos.Line > len(a) {
		if len(a) == 0 {
			return pos
		}
		return a[len(a)-1].inPos
	}
	el := a[pos.Line-1]
	var tok token.Position
	tok.Filename = el.inPos.Filename
	tok.Line = el.inPos.Line
	tok.Column = el.inPos.Column + pos.Column - 1
	tok.Offset = el.inPos.Offset + (pos.Offset - el.outOffset)
	return tok
}

// paramComments returns the comment groups that precede each field of the
// given parameter list, and the groups that trail a field instead. A group
// that starts on the line where the previous field ends trails that field,
// unless it ends on the line where the next field starts, as in
// "a A, /* @B */ b B". Groups after the last field trail it.
func paramComments(fset *token.FileSet, file *ast.File, params *ast.FieldList) (leading [][]*ast.CommentGroup, trailing []*ast.CommentGroup) {
	if params == nil {
		return nil, nil
	}
	leading = make([][]*ast.CommentGroup, len(params.List))
	prevEnd := params.Opening
	for i, field := range params.List {
		prevLine := fset.Position(prevEnd).Line
		fieldLine := fset.Position(field.Pos()).Line
		for _, g := range file.Comments {
			if g.Pos() < prevEnd || g.End() > field.Pos() {
				continue
			}
			if i > 0 && fset.Position(g.Pos()).Line == prevLine && fset.Position(g.End()).Line != fieldLine {
				trailing = append(trailing, g)
				continue
			}
			leading[i] = append(leading[i], g)
		}
		prevEnd = field.End()
	}
	if len(params.List) > 0 {
		for _, g := range file.Comments {
			if g.Pos() >= prevEnd && g.End() <= params.Closing {
				trailing = append(trailing, g)
			}
		}
	}
	return leading, trailing
}

// closeGap moves the names of a field whose annotations were stripped up to
// the line where the stripped comments began, so the printed declaration has
// no blank lines in their place. Lines holding the previous field or comments
// that were kept are not crossed.
func closeGap(fset *token.FileSet, field *ast.Field, prevEnd, stripped token.Pos, kept []*ast.CommentGroup) {
	if len(field.Names) == 0 || !stripped.IsValid() {
		return
	}
	f := fset.File(field.Pos())
	line := f.Line(stripped)
	if l := f.Line(prevEnd) + 1; l > line {
		line = l
	}
	for _, g := range kept {
		if len(g.List) == 0 {
			continue
		}
		if l := f.Line(g.End()) + 1; l > line {
			line = l
		}
	}
	if f.Line(field.Pos()) <= line {
		return
	}
	start := f.LineStart(line)
	for _, name := range field.Names {
		name.NamePos = start
	}
}

// removeEmptyComments drops comment groups that annotation stripping left
// without any comments.
func removeEmptyComments(file *ast.File) {
	groups := file.Comments[:0]
	for _, g := range file.Comments {
		if len(g.List) > 0 {
			groups = append(groups, g)
		}
	}
	file.Comments = groups
}
