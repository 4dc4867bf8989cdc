package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"mindmap/api/internal/history"
	"mindmap/api/internal/mindmap"
)

// REPL holds the state of the interactive session.
type REPL struct {
	session *history.Session
	in      *bufio.Reader
	out     io.Writer
	path    string
}

func newREPL(session *history.Session, in io.Reader, out io.Writer) *REPL {
	return &REPL{session: session, in: bufio.NewReader(in), out: out}
}

func (r *REPL) Run() error {
	fmt.Fprintln(r.out, "Mind map shell. Type 'help' for commands, 'quit' to exit.")
	for {
		fmt.Fprint(r.out, "mindmap> ")
		input, err := r.in.ReadString('\n')
		if err != nil && input == "" {
			if err == io.EOF {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !r.handleCommand(input) {
			return nil
		}
	}
}

func (r *REPL) handleCommand(input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		r.printHelp()
	case "quit", "exit":
		return false
	case "show":
		r.cmdShow()
	case "add":
		r.cmdAdd(args)
	case "sib":
		r.cmdSibling(args)
	case "del":
		r.cmdDelete(args)
	case "text":
		r.cmdText(args)
	case "begin":
		r.session.StartTransaction()
		fmt.Fprintln(r.out, "transaction started")
	case "commit":
		r.session.CommitTransaction()
		r.printDepth()
	case "discard":
		r.session.DiscardTransaction()
		fmt.Fprintln(r.out, "transaction discarded")
	case "undo":
		r.cmdUndoRedo(r.session.Undo)
	case "redo":
		r.cmdUndoRedo(r.session.Redo)
	case "md":
		fmt.Fprint(r.out, mindmap.Markdown(r.session.Document()))
	case "save":
		r.cmdSave(args)
	default:
		fmt.Fprintf(r.out, "unknown command %q\n", cmd)
	}
	return true
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `Commands:
  show              print the tree with node ids
  add <parent>      add a child node (default parent: root)
  sib <id>          add a sibling after a node
  del <id>          delete a node and its subtree
  text <id> <text>  change a node label
  begin             start a transaction
  commit            record the transaction as one undo step
  discard           drop the transaction, keeping the edits
  undo, redo        step through history (owner only)
  md                print the map as Markdown
  save [path]       write the map as JSON
  quit              leave the shell
`)
}

func (r *REPL) cmdShow() {
	focused := r.session.FocusedNode()
	mindmap.Walk(r.session.Document(), func(node mindmap.Node, depth int) {
		marker := ""
		if node.ID == focused {
			marker = " *"
		}
		fmt.Fprintf(r.out, "%s- %s [%s]%s\n", strings.Repeat("  ", depth), node.Text, node.ID, marker)
	})
	r.printDepth()
}

func (r *REPL) cmdAdd(args []string) {
	parent := mindmap.RootID
	if len(args) > 0 {
		parent = args[0]
	}
	r.reportNew(r.session.AddChild(parent), parent)
}

func (r *REPL) cmdSibling(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "usage: sib <id>")
		return
	}
	r.reportNew(r.session.AddSibling(args[0]), args[0])
}

func (r *REPL) reportNew(id, target string) {
	if id == "" {
		fmt.Fprintf(r.out, "cannot add next to %q\n", target)
		return
	}
	fmt.Fprintf(r.out, "added %s\n", id)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "usage: del <id>")
		return
	}
	if _, ok := mindmap.Find(r.session.Document(), args[0]); !ok || args[0] == mindmap.RootID {
		fmt.Fprintf(r.out, "cannot delete %q\n", args[0])
		return
	}
	r.session.DeleteNode(args[0])
	fmt.Fprintf(r.out, "deleted %s\n", args[0])
}

func (r *REPL) cmdText(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: text <id> <text>")
		return
	}
	if _, ok := mindmap.Find(r.session.Document(), args[0]); !ok {
		fmt.Fprintf(r.out, "no node %q\n", args[0])
		return
	}
	r.session.UpdateText(args[0], strings.Join(args[1:], " "))
}

func (r *REPL) cmdUndoRedo(step func()) {
	step()
	if !r.session.IsOwner() {
		fmt.Fprintln(r.out, "only the owner can undo or redo")
		return
	}
	r.printDepth()
}

func (r *REPL) cmdSave(args []string) {
	path := r.path
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		fmt.Fprintln(r.out, "usage: save <path>")
		return
	}
	raw, err := json.MarshalIndent(r.session.Document(), "", "  ")
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	r.path = path
	fmt.Fprintf(r.out, "saved %s\n", path)
}

func (r *REPL) printDepth() {
	h := r.session.History()
	fmt.Fprintf(r.out, "history: %d undo, %d redo\n", h.UndoDepth(), h.RedoDepth())
}
