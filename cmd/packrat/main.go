// Command packrat backs up a file tree into incremental, optionally
// encrypted zip archives, and restores any file or folder as of any
// recorded backup.
//
//	packrat -config packrat.toml backup
//	packrat -config packrat.toml restore docs/report.txt
//	packrat -config packrat.toml restore-all "2024-03-07T10:30:00Z"
//	packrat -config packrat.toml folder docs
//	packrat -config packrat.toml list
//	packrat -config packrat.toml history docs/report.txt
//	packrat -config packrat.toml timestamps docs
//	packrat -config packrat.toml verify
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/packrat-backup/packrat/openssl"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
	"github.com/packrat-backup/packrat/vault"
)

var usage = `
packrat [flags] <command> <command arguments>

Possible commands:
    backup

    restore <path>

    restore-all <as-of time, RFC 3339 or "now">

    folder <prefix>

    list

    history <path>

    timestamps <prefix>

    verify
`

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		srcLoc     = flag.String("src", "", "source location (overrides config)")
		dstLoc     = flag.String("dst", "", "destination location (overrides config)")
		passphrase = flag.String("passphrase", "", "encryption passphrase (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *srcLoc != "" {
		cfg.Source = *srcLoc
	}
	if *dstLoc != "" {
		cfg.Destination = *dstLoc
	}
	if *passphrase != "" {
		cfg.Passphrase = *passphrase
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}
	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch args[0] {
	case "backup":
		err = app.dobackup(ctx)
	case "restore":
		err = app.dorestore(ctx, args[1:])
	case "restore-all":
		err = app.dorestoreall(ctx, args[1:])
	case "folder":
		err = app.dofolder(ctx, args[1:])
	case "list":
		err = app.dolist(ctx)
	case "history":
		err = app.dohistory(ctx, args[1:])
	case "timestamps":
		err = app.dotimestamps(ctx, args[1:])
	case "verify":
		err = app.doverify(ctx)
	default:
		fmt.Println(usage)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *Config
	dest  store.Store // destination, with encryption applied
	vault *vault.Vault
}

func newApp(cfg *Config) (*app, error) {
	source := parselocation(cfg.Source)
	dest := parselocation(cfg.Destination)
	if source == nil || dest == nil {
		return nil, fmt.Errorf("bad source or destination location")
	}
	if cfg.Passphrase != "" {
		c := openssl.New(cfg.Passphrase)
		if strings.EqualFold(cfg.KDF, "pbkdf2") {
			c = openssl.NewPBKDF2(cfg.Passphrase)
		}
		dest = store.NewEncrypted(dest, c)
	}
	v := vault.New(source, dest, vault.Options{
		Tombstone:    cfg.Tombstone,
		OnlyNewer:    cfg.OnlyNewer,
		MaxFiles:     cfg.MaxFiles,
		AutoContinue: cfg.AutoContinue,
		SplitSize:    cfg.SplitSize,
		Exclude:      cfg.Exclude,
	})
	if cfg.Staging != "" {
		staging := parselocation(cfg.Staging)
		if staging == nil {
			return nil, fmt.Errorf("bad staging location")
		}
		v.SetRestoreTarget(staging)
	}
	v.OnProgress(progress())
	return &app{cfg: cfg, dest: dest, vault: v}, nil
}

// progress prints at most one line a second, whatever the event rate.
func progress() func(vault.Event) {
	var last time.Time
	return func(e vault.Event) {
		now := time.Now()
		if e.Phase != vault.DonePhase && now.Sub(last) < time.Second {
			return
		}
		last = now
		switch e.Phase {
		case vault.DonePhase:
			fmt.Printf("done: %d saved, %d skipped, %d missing, %d errors\n",
				e.Saved, e.Skipped, e.Missing, e.Errors)
		case vault.SavePhase:
			fmt.Println("writing", e.Archive)
		default:
			fmt.Printf("%s: %s\n", e.Phase, e.Path)
		}
	}
}

func (a *app) dobackup(ctx context.Context) error {
	sum, err := a.vault.Backup(ctx)
	if err != nil {
		return err
	}
	for _, name := range sum.Archives {
		fmt.Println("wrote", name)
	}
	if len(sum.Archives) == 0 {
		fmt.Println("nothing to do")
	}
	return nil
}

func (a *app) dorestore(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: restore <path>")
	}
	p := args[0]
	tab, err := toc.Load(ctx, a.dest, toc.FileName)
	if err != nil {
		return err
	}
	e := tab.Get(a.vault.NormalizeSourcePath(p))
	if e == nil {
		return fmt.Errorf("%s has never been backed up", p)
	}
	options := make([]string, 0, len(e.History))
	for _, ver := range e.History {
		state := ver.Digest
		if ver.Missing {
			state = "(deleted)"
		}
		options = append(options, fmt.Sprintf("%s  %s  %.12s",
			ver.Modified.Format(time.RFC3339), ver.ZipName, state))
	}
	n, err := chooseOne("Restore which version of "+p+"?", options)
	if err != nil {
		return err
	}
	return a.vault.RestoreFile(ctx, p, &e.History[n])
}

func (a *app) dorestoreall(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf(`usage: restore-all <as-of time, RFC 3339 or "now">`)
	}
	cutoff := time.Now()
	if args[0] != "now" {
		var err error
		cutoff, err = time.Parse(time.RFC3339, args[0])
		if err != nil {
			return err
		}
	}
	opts := vault.RestoreOptions{OnlyNewer: a.cfg.OnlyNewer, DeleteMissing: a.cfg.Tombstone}
	sum, err := a.vault.Restore(ctx, map[string]time.Time{"*": cutoff}, opts, confirmPlan)
	if err != nil {
		return err
	}
	fmt.Printf("restored %d file(s), deleted %d, %d error(s)\n",
		sum.Saved, sum.Missing, sum.Errors)
	return nil
}

func (a *app) dofolder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: folder <prefix>")
	}
	prefix := args[0]
	stamps, err := a.vault.FolderTimestamps(ctx, prefix)
	if err != nil {
		return err
	}
	if len(stamps) == 0 {
		return fmt.Errorf("nothing recorded under %s", prefix)
	}
	options := make([]string, 0, len(stamps))
	for _, t := range stamps {
		options = append(options, t.Format(time.RFC3339))
	}
	n, err := chooseOne("Restore "+prefix+" as of when?", options)
	if err != nil {
		return err
	}
	pl, err := a.vault.RestoreFolder(ctx, prefix, stamps[n],
		vault.RestoreOptions{OnlyNewer: a.cfg.OnlyNewer, DeleteMissing: a.cfg.Tombstone})
	if err != nil {
		return err
	}
	sum, err := a.vault.ExecutePlan(ctx, pl, confirmPlan)
	if err != nil {
		return err
	}
	fmt.Printf("restored %d file(s), deleted %d, %d error(s)\n",
		sum.Saved, sum.Missing, sum.Errors)
	return nil
}

func (a *app) dolist(ctx context.Context) error {
	keys, err := a.dest.List(ctx, "")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	for _, key := range keys {
		if key == toc.FileName {
			continue
		}
		size := "-"
		if info, err := a.dest.Stat(ctx, key); err == nil {
			size = strconv.FormatInt(info.Size, 10)
		}
		fmt.Fprintf(w, "%s\t%s\n", key, size)
	}
	return w.Flush()
}

// dohistory prints a path's recorded versions. The TOC is treated as a
// foreign document here and picked apart leniently, so the command still
// works against destinations written by other versions of the tool.
func (a *app) dohistory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: history <path>")
	}
	b, err := a.dest.ReadTOC(ctx, toc.FileName)
	if err != nil {
		return err
	}
	doc, err := jason.NewObjectFromBytes(b)
	if err != nil {
		return err
	}
	entry, err := doc.GetObject(a.vault.NormalizeSourcePath(args[0]))
	if err != nil {
		return fmt.Errorf("%s has never been backed up", args[0])
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	if digest, err := entry.GetString("digest"); err == nil {
		fmt.Fprintf(w, "Digest:\t%s\n", digest)
	}
	if mtime, err := entry.GetInt64("mtime"); err == nil {
		fmt.Fprintf(w, "Mtime:\t%v\n", toc.FromMilliseconds(mtime))
	}
	if missing, _ := entry.GetBoolean("missing"); missing {
		fmt.Fprintf(w, "Missing:\ttrue\n")
	}
	w.Flush()
	history, err := entry.GetObjectArray("history")
	if err != nil {
		return err
	}
	fmt.Println("---")
	w = tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Archive\tModified\tDigest\n")
	for _, ver := range history {
		name, _ := ver.GetString("zipName")
		modified, _ := ver.GetString("modified")
		digest, _ := ver.GetString("digest")
		if missing, _ := ver.GetBoolean("missing"); missing {
			digest = "(deleted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%.12s\n", name, modified, digest)
	}
	return w.Flush()
}

func (a *app) dotimestamps(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: timestamps <prefix>")
	}
	stamps, err := a.vault.FolderTimestamps(ctx, args[0])
	if err != nil {
		return err
	}
	for _, t := range stamps {
		fmt.Println(t.Format(time.RFC3339))
	}
	return nil
}

func (a *app) doverify(ctx context.Context) error {
	results, err := a.vault.Verify(ctx, a.cfg.VerifyRate)
	if err != nil {
		return err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Archive < results[j].Archive })
	bad := 0
	for _, res := range results {
		if len(res.Problems) == 0 {
			fmt.Printf("ok    %s (%d entries)\n", res.Archive, res.Entries)
			continue
		}
		bad++
		fmt.Printf("FAIL  %s\n", res.Archive)
		for _, prob := range res.Problems {
			fmt.Printf("      %s\n", prob)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d archive(s) failed verification", bad)
	}
	return nil
}

// chooseOne shows numbered options and reads the user's pick from stdin.
func chooseOne(prompt string, options []string) (int, error) {
	fmt.Println(prompt)
	for i, opt := range options {
		fmt.Printf("%3d. %s\n", i+1, opt)
	}
	fmt.Print("> ")
	in := bufio.NewScanner(os.Stdin)
	if !in.Scan() {
		return 0, fmt.Errorf("no selection")
	}
	n, err := strconv.Atoi(strings.TrimSpace(in.Text()))
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("bad selection")
	}
	return n - 1, nil
}

// confirmPlan is the gate in front of bulk restores.
func confirmPlan(pl *vault.Plan) bool {
	fmt.Print(pl.Describe())
	fmt.Print("Proceed? [y/N] ")
	in := bufio.NewScanner(os.Stdin)
	if !in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(in.Text()))
	return answer == "y" || answer == "yes"
}
