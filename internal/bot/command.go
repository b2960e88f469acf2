package bot

import (
	"strings"

	logx "kibot/pkg/logx"
)

// Command is one leaf of the command grammar.
type Command struct {
	// Route is the space-separated token path, e.g. "b站 订阅".
	Route string
	// Aliases replace the last route token, e.g. "今日" for "番剧 今日放送".
	Aliases []string
	Handle  HandlerFunc
}

type Request struct {
	ID       string
	GroupID  int64
	Group    string
	UserID   int64
	UserName string
	// Text is the message with the mention removed.
	Text    string
	Command string
	Args    []string
	Log     logx.Logger
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

type node struct {
	children map[string]*node
	cmd      *Command
	// usage is replied when the path ends on this node without a handler.
	usage string
}

func newNode() *node { return &node{children: map[string]*node{}} }

// foldKey lowercases Latin letters so "B站" and "CHECK" match; CJK is unaffected.
func foldKey(tok string) string { return strings.ToLower(strings.TrimSpace(tok)) }

func (n *node) child(tok string) (*node, bool) {
	c, ok := n.children[foldKey(tok)]
	return c, ok
}

// ensure returns the node at path, creating missing ones.
func (n *node) ensure(path []string) *node {
	cur := n
	for _, p := range path {
		k := foldKey(p)
		nxt, ok := cur.children[k]
		if !ok {
			nxt = newNode()
			cur.children[k] = nxt
		}
		cur = nxt
	}
	return cur
}

func (n *node) add(path []string, c *Command) {
	leaf := n.ensure(path)
	leaf.cmd = c
	if len(path) == 0 {
		return
	}
	parent := n.ensure(path[:len(path)-1])
	for _, a := range c.Aliases {
		parent.link(a, leaf)
	}
}

// link makes alias resolve to the same node as target under n.
func (n *node) link(alias string, target *node) {
	if _, exists := n.children[foldKey(alias)]; !exists {
		n.children[foldKey(alias)] = target
	}
}

func splitRoute(route string) []string { return strings.Fields(route) }
