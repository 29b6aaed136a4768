package cards

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CSS classes of the HTML rendering
const (
	classCard      = "gp-card"
	classError     = "gp-card-error"
	classAck       = "gp-card-thanks"
	classFallback  = "gp-card-fallback"
	classActions   = "gp-card-actions"
	classButton    = "gp-card-btn"
	classText      = "gp-card-text"
	classImage     = "gp-card-image"
	classContainer = "gp-card-container"
	classColumns   = "gp-card-columns"
	classColumn    = "gp-card-column"
	classInput     = "gp-card-input"
)

// WriteHTML renders the output as an HTML fragment styled with the theme
func WriteHTML(w io.Writer, out *Output, theme Theme) error {
	root := element(atom.Div, html.Attribute{Key: "class", Val: classCard})
	if style := theme.Style(); style != "" {
		root.Attr = append(root.Attr, html.Attribute{Key: "style", Val: style})
	}

	if out != nil {
		for _, n := range out.Body {
			root.AppendChild(htmlNode(n))
		}
		if len(out.Actions) > 0 {
			bar := element(atom.Div, html.Attribute{Key: "class", Val: classActions})
			for _, a := range out.Actions {
				btn := element(atom.Button,
					html.Attribute{Key: "type", Val: "button"},
					html.Attribute{Key: "class", Val: classButton},
					html.Attribute{Key: "data-action-id", Val: a.ID},
					html.Attribute{Key: "data-action-type", Val: a.Type},
				)
				btn.AppendChild(&html.Node{Type: html.TextNode, Data: a.Title})
				bar.AppendChild(btn)
			}
			root.AppendChild(bar)
		}
	}

	if err := html.Render(w, root); err != nil {
		return fmt.Errorf("render card html: %w", err)
	}
	return nil
}

// MessageKind selects the styling of a standalone card message
type MessageKind int

const (
	MessageError MessageKind = iota
	MessageAck
	MessageFallback
)

// WriteMessageHTML renders a single message block: an error, the
// response acknowledgement, or fallback text.
func WriteMessageHTML(w io.Writer, kind MessageKind, text string) error {
	class := classError
	switch kind {
	case MessageAck:
		class = classAck
	case MessageFallback:
		class = classFallback
	}
	n := element(atom.Div, html.Attribute{Key: "class", Val: class})
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	if err := html.Render(w, n); err != nil {
		return fmt.Errorf("render card message: %w", err)
	}
	return nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func htmlNode(n *Node) *html.Node {
	var out *html.Node
	switch n.Kind {
	case NodeText:
		out = element(atom.Div, html.Attribute{Key: "class", Val: classText})
		out.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
	case NodeImage:
		out = element(atom.Img,
			html.Attribute{Key: "class", Val: classImage},
			html.Attribute{Key: "src", Val: n.URL},
			html.Attribute{Key: "alt", Val: n.Alt},
		)
	case NodeContainer:
		out = element(atom.Div, html.Attribute{Key: "class", Val: classContainer})
	case NodeColumnSet:
		out = element(atom.Div, html.Attribute{Key: "class", Val: classColumns})
	case NodeColumn:
		out = element(atom.Div, html.Attribute{Key: "class", Val: classColumn})
		if n.Flex != nil {
			out.Attr = append(out.Attr, html.Attribute{Key: "style", Val: "flex: " + n.Flex.String() + ";"})
		}
	case NodeInput:
		out = element(atom.Input,
			html.Attribute{Key: "class", Val: classInput},
			html.Attribute{Key: "type", Val: n.InputType},
			html.Attribute{Key: "data-input-id", Val: n.InputID},
		)
		if n.Placeholder != "" {
			out.Attr = append(out.Attr, html.Attribute{Key: "placeholder", Val: n.Placeholder})
		}
		if n.Min != nil {
			out.Attr = append(out.Attr, html.Attribute{Key: "min", Val: formatNumber(*n.Min)})
		}
		if n.Max != nil {
			out.Attr = append(out.Attr, html.Attribute{Key: "max", Val: formatNumber(*n.Max)})
		}
	case NodeSelect:
		out = element(atom.Select,
			html.Attribute{Key: "class", Val: classInput},
			html.Attribute{Key: "data-input-id", Val: n.InputID},
		)
		for _, opt := range n.Options {
			o := element(atom.Option, html.Attribute{Key: "value", Val: opt.Value})
			o.AppendChild(&html.Node{Type: html.TextNode, Data: opt.Title})
			out.AppendChild(o)
		}
	default:
		out = element(atom.Div)
	}

	if n.ElementID != "" {
		out.Attr = append(out.Attr, html.Attribute{Key: "data-element-id", Val: n.ElementID})
	}
	if n.Hidden {
		addStyle(out, "display: none;")
	}
	for _, child := range n.Children {
		out.AppendChild(htmlNode(child))
	}
	return out
}

// addStyle appends a declaration to the node's style attribute
func addStyle(n *html.Node, decl string) {
	for i, a := range n.Attr {
		if a.Key == "style" {
			n.Attr[i].Val = a.Val + " " + decl
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: decl})
}
