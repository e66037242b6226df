package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/scribefs/scribefs/pkg/wire"
)

// View lists files. all includes files the user cannot read; long selects
// the detailed table.
func (c *Client) View(all, long bool) (string, error) {
	var flags uint16
	if all {
		flags |= wire.FlagAll
	}
	if long {
		flags |= wire.FlagLong
	}
	return c.nsOp("VIEW", &wire.Message{Op: wire.OpView, Flags: flags, Sentence: -1})
}

// Read fetches the file content from its storage server.
func (c *Client) Read(filename string) (string, error) {
	return c.ssOp(wire.OpRead, wire.OpRead, filename, nil)
}

// Create asks the name server to place a new file.
func (c *Client) Create(filename string) (string, error) {
	return c.nsOp("CREATE", &wire.Message{Op: wire.OpCreate, Filename: filename, Sentence: -1})
}

// Delete removes the file.
func (c *Client) Delete(filename string) error {
	_, err := c.nsOp("DELETE", &wire.Message{Op: wire.OpDelete, Filename: filename, Sentence: -1})
	return err
}

// Info returns the file's metadata listing.
func (c *Client) Info(filename string) (string, error) {
	return c.nsOp("INFO", &wire.Message{Op: wire.OpInfo, Filename: filename, Sentence: -1})
}

// List returns the registered users.
func (c *Client) List() (string, error) {
	return c.nsOp("LIST", &wire.Message{Op: wire.OpList, Sentence: -1})
}

// Recents returns the most recently accessed readable files.
func (c *Client) Recents() (string, error) {
	return c.nsOp("RECENTS", &wire.Message{Op: wire.OpRecents, Sentence: -1})
}

// Undo restores the file's previous content.
func (c *Client) Undo(filename string) (string, error) {
	return c.ssOp(wire.OpUndo, wire.OpUndo, filename, nil)
}

// AddAccess grants read (or write) access to user.
func (c *Client) AddAccess(filename, user string, write bool) error {
	var flags uint16
	if write {
		flags |= wire.FlagAll
	}
	_, err := c.nsOp("ADDACCESS", &wire.Message{Op: wire.OpAddAccess, Flags: flags, Filename: filename, Data: user, Sentence: -1})
	return err
}

// RemAccess revokes user's access.
func (c *Client) RemAccess(filename, user string) error {
	_, err := c.nsOp("REMACCESS", &wire.Message{Op: wire.OpRemAccess, Filename: filename, Data: user, Sentence: -1})
	return err
}

// ReqAccess files a pending access request.
func (c *Client) ReqAccess(filename string, write bool) error {
	var flags uint16
	if write {
		flags |= wire.FlagAll
	}
	_, err := c.nsOp("REQACCESS", &wire.Message{Op: wire.OpReqAccess, Flags: flags, Filename: filename, Sentence: -1})
	return err
}

// ViewRequests lists pending requests for an owned file.
func (c *Client) ViewRequests(filename string) (string, error) {
	return c.nsOp("VIEWREQUESTS", &wire.Message{Op: wire.OpViewRequests, Filename: filename, Sentence: -1})
}

// Approve grants a pending request from user.
func (c *Client) Approve(filename, user string) (string, error) {
	return c.nsOp("APPROVE", &wire.Message{Op: wire.OpApprove, Filename: filename, Data: user, Sentence: -1})
}

// Deny rejects a pending request from user.
func (c *Client) Deny(filename, user string) (string, error) {
	return c.nsOp("DENY", &wire.Message{Op: wire.OpDeny, Filename: filename, Data: user, Sentence: -1})
}

// Exec runs the file's lines on the name server host.
func (c *Client) Exec(filename string) (string, error) {
	return c.nsOp("EXEC", &wire.Message{Op: wire.OpExec, Filename: filename, Sentence: -1})
}

// CreateFolder makes a folder on the storage servers.
func (c *Client) CreateFolder(folder string) error {
	_, err := c.nsOp("CREATEFOLDER", &wire.Message{Op: wire.OpCreateFolder, Filename: folder, Sentence: -1})
	return err
}

// Move relocates the file into folder, returning the new path.
func (c *Client) Move(filename, folder string) (string, error) {
	return c.nsOp("MOVE", &wire.Message{Op: wire.OpMove, Filename: filename, Data: folder, Sentence: -1})
}

// ViewFolder lists readable files under folder.
func (c *Client) ViewFolder(folder string) (string, error) {
	return c.nsOp("VIEWFOLDER", &wire.Message{Op: wire.OpViewFolder, Filename: folder, Sentence: -1})
}

// Checkpoint snapshots the file under tag.
func (c *Client) Checkpoint(filename, tag string) error {
	_, err := c.ssOp(wire.OpCheckpoint, wire.OpCheckpoint, filename, func(m *wire.Message) { m.Data = tag })
	return err
}

// ViewCheckpoint returns the tagged snapshot's content.
func (c *Client) ViewCheckpoint(filename, tag string) (string, error) {
	return c.ssOp(wire.OpViewCheckpoint, wire.OpViewCheckpoint, filename, func(m *wire.Message) { m.Data = tag })
}

// Revert restores the file from the tagged snapshot.
func (c *Client) Revert(filename, tag string) (string, error) {
	return c.ssOp(wire.OpRevert, wire.OpRevert, filename, func(m *wire.Message) { m.Data = tag })
}

// ListCheckpoints enumerates the file's snapshot tags.
func (c *Client) ListCheckpoints(filename string) (string, error) {
	return c.ssOp(wire.OpListCheckpoints, wire.OpListCheckpoints, filename, nil)
}

// Run drives the interactive loop: one command per line, WRITE bodies
// collected until a blank line. Returns nil on EXIT or input EOF.
func (c *Client) Run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), wire.MaxDataLen)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		verb := strings.ToLower(args[0])
		if verb == "exit" || verb == "quit" {
			return nil
		}
		if err := c.runCommand(verb, args[1:], scanner, out); err != nil {
			fmt.Fprintln(out, err.Error())
		}
	}
}

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (c *Client) runCommand(verb string, args []string, scanner *bufio.Scanner, out io.Writer) error {
	show := func(data string, err error) error {
		if err != nil {
			return err
		}
		if data != "" {
			fmt.Fprintln(out, data)
		}
		return nil
	}

	switch verb {
	case "view":
		all, long := false, false
		for _, a := range args {
			switch a {
			case "-a":
				all = true
			case "-l":
				long = true
			default:
				return usage("view [-a] [-l]")
			}
		}
		return show(c.View(all, long))
	case "read":
		if len(args) != 1 {
			return usage("read <file>")
		}
		return show(c.Read(args[0]))
	case "create":
		if len(args) != 1 {
			return usage("create <file>")
		}
		return show(c.Create(args[0]))
	case "write":
		if len(args) != 2 {
			return usage("write <file> <sentence>")
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return usage("write <file> <sentence>")
		}
		fmt.Fprintln(out, "enter edit lines (<word_index> <phrase>), blank line to finish:")
		var lines []string
		for scanner.Scan() {
			body := strings.TrimSpace(scanner.Text())
			if body == "" {
				break
			}
			lines = append(lines, body)
		}
		content, err := c.Write(args[0], idx, strings.Join(lines, "\n"))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, content)
		return nil
	case "delete":
		if len(args) != 1 {
			return usage("delete <file>")
		}
		return c.Delete(args[0])
	case "info":
		if len(args) != 1 {
			return usage("info <file>")
		}
		return show(c.Info(args[0]))
	case "stream":
		if len(args) != 1 {
			return usage("stream <file>")
		}
		return c.Stream(args[0], out)
	case "list":
		return show(c.List())
	case "recents":
		return show(c.Recents())
	case "undo":
		if len(args) != 1 {
			return usage("undo <file>")
		}
		return show(c.Undo(args[0]))
	case "addaccess":
		if len(args) != 3 || (args[0] != "-R" && args[0] != "-W") {
			return usage("addaccess (-R|-W) <file> <user>")
		}
		return c.AddAccess(args[1], args[2], args[0] == "-W")
	case "remaccess":
		if len(args) != 2 {
			return usage("remaccess <file> <user>")
		}
		return c.RemAccess(args[0], args[1])
	case "reqaccess":
		switch {
		case len(args) == 1:
			return c.ReqAccess(args[0], false)
		case len(args) == 2 && (args[0] == "-R" || args[0] == "-W"):
			return c.ReqAccess(args[1], args[0] == "-W")
		default:
			return usage("reqaccess [-R|-W] <file>")
		}
	case "viewrequests":
		if len(args) != 1 {
			return usage("viewrequests <file>")
		}
		return show(c.ViewRequests(args[0]))
	case "approve":
		if len(args) != 2 {
			return usage("approve <file> <user>")
		}
		return show(c.Approve(args[0], args[1]))
	case "deny":
		if len(args) != 2 {
			return usage("deny <file> <user>")
		}
		return show(c.Deny(args[0], args[1]))
	case "exec":
		if len(args) != 1 {
			return usage("exec <file>")
		}
		return show(c.Exec(args[0]))
	case "createfolder":
		if len(args) != 1 {
			return usage("createfolder <folder>")
		}
		return c.CreateFolder(args[0])
	case "move":
		if len(args) != 2 {
			return usage("move <file> <folder>")
		}
		return show(c.Move(args[0], args[1]))
	case "viewfolder":
		if len(args) != 1 {
			return usage("viewfolder <folder>")
		}
		return show(c.ViewFolder(args[0]))
	case "checkpoint":
		if len(args) != 2 {
			return usage("checkpoint <file> <tag>")
		}
		return c.Checkpoint(args[0], args[1])
	case "viewcheckpoint":
		if len(args) != 2 {
			return usage("viewcheckpoint <file> <tag>")
		}
		return show(c.ViewCheckpoint(args[0], args[1]))
	case "revert":
		if len(args) != 2 {
			return usage("revert <file> <tag>")
		}
		return show(c.Revert(args[0], args[1]))
	case "listcheckpoints":
		if len(args) != 1 {
			return usage("listcheckpoints <file>")
		}
		return show(c.ListCheckpoints(args[0]))
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}
