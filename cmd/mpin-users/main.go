// Command mpin-users lists the identities held in a client's non-secure
// store without loading registration tokens.
//
//	mpin-users -file users.json
//	mpin-users -file users.sealed -passphrase-env MPIN_PASSPHRASE
//	mpin-users -redis-addr localhost:6379 -redis-prefix mpin -backend api.example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/internal/persist"
	"github.com/MrEthical07/goMPin/storage"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		color.Red("[!] %v", err)
		os.Exit(1)
	}
}

type options struct {
	file          string
	redisAddr     string
	redisPrefix   string
	passphraseEnv string
	backend       string
	noColor       bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("mpin-users", flag.ContinueOnError)
	fs.StringVar(&o.file, "file", "", "path of a file store")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "address of a redis store")
	fs.StringVar(&o.redisPrefix, "redis-prefix", "mpin", "key prefix of the redis store")
	fs.StringVar(&o.passphraseEnv, "passphrase-env", "", "environment variable holding the passphrase of a sealed store")
	fs.StringVar(&o.backend, "backend", "", "only list users of this backend")
	fs.BoolVar(&o.noColor, "no-color", false, "disable colored states")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.file == "") == (o.redisAddr == "") {
		return o, errors.New("exactly one of -file and -redis-addr is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	if o.noColor {
		color.NoColor = true
	}

	st, closeStore, err := openStore(o)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	data, err := st.GetData(ctx)
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	snaps, err := persist.Inspect(data)
	if err != nil {
		return err
	}

	if o.backend != "" {
		want := backendKey(o.backend)
		kept := snaps[:0]
		for _, s := range snaps {
			if s.Backend == want {
				kept = append(kept, s)
			}
		}
		snaps = kept
	}

	render(out, snaps)
	return nil
}

func openStore(o options) (storage.Storage, func(), error) {
	var (
		st      storage.Storage
		closeFn = func() {}
	)
	if o.file != "" {
		st = storage.NewFile(o.file)
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		st = storage.NewRedis(rdb, o.redisPrefix, storage.NonSecure, 0)
		closeFn = func() { _ = rdb.Close() }
	}

	if o.passphraseEnv != "" {
		pass := os.Getenv(o.passphraseEnv)
		if pass == "" {
			closeFn()
			return nil, nil, fmt.Errorf("%s is empty", o.passphraseEnv)
		}
		sealed, err := storage.NewSealed(st, []byte(pass), storage.DefaultSealConfig())
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		st = sealed
	}
	return st, closeFn, nil
}

func backendKey(backend string) string {
	if i := strings.Index(backend, "://"); i >= 0 {
		backend = backend[i+3:]
	}
	return strings.TrimSuffix(backend, "/")
}

func render(out io.Writer, snaps []identity.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no users")
		return
	}

	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeader([]string{"User", "Device", "Backend", "State", "MPin ID", "Permit Date"})

	for _, s := range snaps {
		permit := "-"
		if s.TimePermitDate != 0 {
			permit = strconv.Itoa(s.TimePermitDate)
		}
		table.Append([]string{s.ID, s.DeviceName, s.Backend, stateLabel(s.State), shorten(s.MPinIDHex), permit})
	}
	table.Render()
}

func stateLabel(s identity.State) string {
	switch s {
	case identity.Registered:
		return color.GreenString(s.String())
	case identity.Blocked:
		return color.RedString(s.String())
	case identity.StartedRegistration, identity.Activated:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}

func shorten(hex string) string {
	if len(hex) <= 16 {
		return hex
	}
	return hex[:8] + "…" + hex[len(hex)-8:]
}
