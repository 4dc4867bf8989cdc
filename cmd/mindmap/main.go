// Command mindmap edits a mind map file from the terminal with local undo
// and redo.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mindmap/api/internal/history"
	"mindmap/api/internal/mindmap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		file    string
		userID  string
		name    string
		ownerID string
	)
	cmd := &cobra.Command{
		Use:          "mindmap [title]",
		Short:        "Edit a mind map in an interactive shell",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := mindmap.New("")
			if len(args) == 1 {
				doc = mindmap.New(args[0])
			}
			if file != "" {
				loaded, err := loadDocument(file)
				if err != nil {
					return err
				}
				doc = loaded
			}
			if ownerID == "" {
				ownerID = userID
			}
			var identity *history.Identity
			if userID != "" {
				identity = &history.Identity{ID: userID, Name: name}
			}
			repl := newREPL(history.NewSession(doc, ownerID, identity), cmd.InOrStdin(), cmd.OutOrStdout())
			repl.path = file
			return repl.Run()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "mind map JSON file to open")
	cmd.Flags().StringVar(&userID, "user", "local", "id of the editing user")
	cmd.Flags().StringVar(&name, "name", "", "display name stamped on new nodes")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id of the map (defaults to --user)")
	return cmd
}

func loadDocument(path string) (mindmap.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return mindmap.Node{}, fmt.Errorf("read %s: %w", path, err)
	}
	var doc mindmap.Node
	if err := json.Unmarshal(raw, &doc); err != nil {
		return mindmap.Node{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := mindmap.Validate(doc); err != nil {
		return mindmap.Node{}, fmt.Errorf("invalid mind map %s: %w", path, err)
	}
	return doc, nil
}
