package external

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// page is a fetched HTML document and the URL it was served from.
type page struct {
	url  *url.URL
	body []byte
	root *html.Node
}

func parsePage(u *url.URL, body []byte) (*page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &page{url: u, body: body, root: root}, nil
}

// htmlForm is a form ready to be submitted: resolved action, method and the
// values a browser would send without user input.
type htmlForm struct {
	action string
	method string
	fields url.Values
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// find returns the first node in document order that satisfies match.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func (p *page) byID(id string) *html.Node {
	return find(p.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == id
	})
}

// textContent returns the whitespace-collapsed text below n.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsText reports whether any text node of the page contains text.
func (p *page) containsText(text string) bool {
	return find(p.root, func(n *html.Node) bool {
		return n.Type == html.TextNode && strings.Contains(strings.Join(strings.Fields(n.Data), " "), text)
	}) != nil
}

// linkByText returns the resolved href of the first anchor whose text
// contains text.
func (p *page) linkByText(text string) (string, bool) {
	a := find(p.root, func(n *html.Node) bool {
		return n.DataAtom == atom.A && hasAttr(n, "href") && strings.Contains(textContent(n), text)
	})
	if a == nil {
		return "", false
	}
	return p.resolve(attr(a, "href")), true
}

func (p *page) resolve(ref string) string {
	u, err := p.url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// enclosingForm returns the form element n belongs to.
func enclosingForm(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.DataAtom == atom.Form {
			return cur
		}
	}
	return nil
}

// formOf builds the submittable form around n.
func (p *page) formOf(formNode *html.Node) htmlForm {
	method := strings.ToUpper(attr(formNode, "method"))
	if method == "" {
		method = "GET"
	}
	action := p.url.String()
	if a := attr(formNode, "action"); a != "" {
		action = p.resolve(a)
	}

	fields := url.Values{}
	for _, n := range findAll(formNode, func(n *html.Node) bool { return n.Type == html.ElementNode }) {
		name := attr(n, "name")
		if name == "" || hasAttr(n, "disabled") {
			continue
		}
		switch n.DataAtom {
		case atom.Input:
			switch strings.ToLower(attr(n, "type")) {
			case "submit", "button", "image", "reset", "file":
				continue
			case "checkbox", "radio":
				if !hasAttr(n, "checked") {
					continue
				}
				value := attr(n, "value")
				if value == "" {
					value = "on"
				}
				fields.Add(name, value)
			default:
				fields.Add(name, attr(n, "value"))
			}
		case atom.Textarea:
			fields.Add(name, textContent(n))
		case atom.Select:
			if v, ok := selectedOption(n); ok {
				fields.Add(name, v)
			}
		}
	}
	return htmlForm{action: action, method: method, fields: fields}
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return textContent(opt)
}

func options(sel *html.Node) []*html.Node {
	return findAll(sel, func(n *html.Node) bool { return n.DataAtom == atom.Option })
}

// selectedOption returns the value a browser submits for sel.
func selectedOption(sel *html.Node) (string, bool) {
	opts := options(sel)
	for _, o := range opts {
		if hasAttr(o, "selected") {
			return optionValue(o), true
		}
	}
	if len(opts) > 0 {
		return optionValue(opts[0]), true
	}
	return "", false
}

// optionByText returns the value of the option of sel labelled text.
func optionByText(sel *html.Node, text string) (string, bool) {
	for _, o := range options(sel) {
		if textContent(o) == text {
			return optionValue(o), true
		}
	}
	return "", false
}

// autoPostForm returns the form of an intermediate page that a browser
// would submit on its own, such as a SAML POST-binding relay: a form whose
// only fields are hidden inputs and that carries SAMLResponse or is posted by
// an onload handler.
func (p *page) autoPostForm() (htmlForm, bool) {
	body := find(p.root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	onload := body != nil && strings.Contains(attr(body, "onload"), "submit")

	for _, f := range findAll(p.root, func(n *html.Node) bool { return n.DataAtom == atom.Form }) {
		visible := find(f, func(n *html.Node) bool {
			if n.DataAtom != atom.Input && n.DataAtom != atom.Select && n.DataAtom != atom.Textarea {
				return false
			}
			t := strings.ToLower(attr(n, "type"))
			return t != "hidden" && t != "submit"
		})
		if visible != nil {
			continue
		}
		form := p.formOf(f)
		if form.fields.Has("SAMLResponse") || onload {
			return form, true
		}
	}
	return htmlForm{}, false
}
