package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/beerboy/can-shm/pkg/canshm"
)

func openFromFlags(fs *flag.FlagSet) (*canshm.Store, error) {
	cfg, err := loadConfig(fs)
	if err != nil {
		return nil, err
	}
	return canshm.Open(cfg.toOptions())
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("path", "can_data.shm", "region file path")
	fs.String("config", "", "hujson config file overriding region parameters")
	fs.Uint32("buckets", canshm.DefaultBucketCount, "bucket count (must match the region's existing value)")
	fs.Bool("perfect-hash", false, "use the perfect-hash index variant")
	return fs
}

func cmdSet(_ context.Context, args []string) error {
	fs := newFlagSet("set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return errors.New("usage: canshmctl set <id> <hex-bytes>")
	}

	id, err := parseCanID(rest[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(rest[1])
	if err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Set(id, uint16(len(data)), data); err != nil {
		return err
	}
	log.Printf("set %#x dlc=%d", uint32(id), len(data))
	return nil
}

func cmdGet(_ context.Context, args []string) error {
	fs := newFlagSet("get")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return errors.New("usage: canshmctl get <id>")
	}

	id, err := parseCanID(rest[0])
	if err != nil {
		return err
	}

	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	fmt.Printf("can_id=%#x dlc=%d data=%x timestamp=%s\n", uint32(rec.CanID), rec.DLC, rec.Data(), rec.Time())
	return nil
}

func cmdSubscribe(ctx context.Context, args []string) error {
	fs := newFlagSet("subscribe")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return errors.New("usage: canshmctl subscribe <id> [count] [timeout-ms]")
	}

	id, err := parseCanID(rest[0])
	if err != nil {
		return err
	}

	count := uint32(0)
	if len(rest) >= 2 {
		n, err := strconv.ParseUint(rest[1], 10, 32)
		if err != nil {
			return fmt.Errorf("parsing count: %w", err)
		}
		count = uint32(n)
	}

	timeout := 30 * time.Second
	if len(rest) >= 3 {
		ms, err := strconv.Atoi(rest[2])
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.Subscribe(waitCtx, id, count, func(r canshm.Record) {
		fmt.Printf("update can_id=%#x dlc=%d data=%x\n", uint32(r.CanID), r.DLC, r.Data())
	})
}

func cmdStats(_ context.Context, args []string) error {
	fs := newFlagSet("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.Stats()
	fmt.Printf("sets=%d gets=%d subscribes=%d entries=%d probes=%d collisions=%d max_probe=%d\n",
		st.Sets, st.Gets, st.Subscribes, st.CurrentEntries, st.TotalProbes, st.Collisions, st.MaxProbeDistance)
	return nil
}

func cmdDump(_ context.Context, args []string) error {
	fs := newFlagSet("dump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Print(s.DebugDump())
	return nil
}

func cmdRepl(ctx context.Context, args []string) error {
	fs := newFlagSet("repl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openFromFlags(fs)
	if err != nil {
		return err
	}
	defer s.Close()

	return runREPL(ctx, s)
}

func parseCanID(s string) (canshm.CanId, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing can id %q: %w", s, err)
	}
	if n > canshm.CanIDMax {
		return 0, fmt.Errorf("can id %#x exceeds 29-bit range", n)
	}
	return canshm.CanId(n), nil
}
