package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/beerboy/can-shm/pkg/canshm"
)

// repl is an interactive front end over an open Store, grounded on
// cmd/sloty's liner-based REPL for pkg/slotcache.
type repl struct {
	store *canshm.Store
	line  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".canshmctl_history")
}

func runREPL(_ context.Context, s *canshm.Store) error {
	r := &repl{store: s}
	r.line = liner.NewLiner()
	defer r.line.Close()

	r.line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("canshm - interactive CAN shared-memory store")
	fmt.Println("Commands: set <id> <hex>, get <id>, stats, dump, quit")

	for {
		line, err := r.line.Prompt("canshm> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.line.AppendHistory(line)

		if line == "quit" || line == "exit" {
			break
		}

		if err := r.dispatch(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	if f, err := os.Create(historyFile()); err == nil {
		_, _ = r.line.WriteHistory(f)
		f.Close()
	}
	return nil
}

func (r *repl) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "set":
		if len(fields) != 3 {
			return fmt.Errorf("usage: set <id> <hex>")
		}
		id, err := parseCanID(fields[1])
		if err != nil {
			return err
		}
		data, err := decodeHexArg(fields[2])
		if err != nil {
			return err
		}
		return r.store.Set(id, uint16(len(data)), data)
	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <id>")
		}
		id, err := parseCanID(fields[1])
		if err != nil {
			return err
		}
		rec, err := r.store.Get(id)
		if err != nil {
			return err
		}
		fmt.Printf("can_id=%#x dlc=%d data=%x\n", uint32(rec.CanID), rec.DLC, rec.Data())
		return nil
	case "stats":
		st := r.store.Stats()
		fmt.Printf("%+v\n", st)
		return nil
	case "dump":
		fmt.Print(r.store.DebugDump())
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func decodeHexArg(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("parsing hex byte: %w", err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
