package main

import (
	"fmt"
	"os"
	"time"

	"github.com/emailpipe/mailpipe/lib/config"
	"github.com/emailpipe/mailpipe/lib/dedup"
	"github.com/emailpipe/mailpipe/lib/lock"
	"github.com/emailpipe/mailpipe/lib/model"
	"github.com/emailpipe/mailpipe/lib/pipeline"
	"github.com/emailpipe/mailpipe/lib/queuedir"
	"github.com/emailpipe/mailpipe/lib/store"
	log "github.com/sirupsen/logrus"
)

func usage() {
	log.Errorf("Usage: %s config.yaml drain|sweep|reprocess|enqueue|unspam|redrive|rm|unlock|list|adddest [args]", os.Args[0])
}

func main() {
	log.SetLevel(log.InfoLevel)
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	cfgFname := os.Args[1]
	command := os.Args[2]
	args := os.Args[3:]

	cfg, err := config.Load(cfgFname)
	if err != nil {
		log.Fatalf("failed to load config %s: %s", cfgFname, err.Error())
	}

	q := queuedir.Root(cfg.QueueRoot)
	err = q.Ensure()
	if err != nil {
		log.Fatalf("failed to create queue directories: %s", err.Error())
	}

	// unlock needs no store and must work even when everything else
	// is wedged
	l := &lock.Lock{Path: cfg.LockFile}
	if command == "unlock" {
		if err = l.Clear(); err != nil {
			log.Fatalf("failed to clear lock: %s", err.Error())
		}
		return
	}

	st, err := store.NewStore(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open db: %s", err.Error())
	}
	defer st.Close()
	err = st.Ensure()
	if err != nil {
		log.Fatalf("failed to migrate db: %s", err.Error())
	}

	cache := dedup.New(dedup.DefaultTTL)
	if cfg.CacheFile != "" {
		cache.Load(cfg.CacheFile)
	}
	p := pipeline.New(q, st, cache, &cfg.Policy, cfg.FilesDir)

	switch command {
	case "drain":
		withLock(l, func() { err = p.Drain() })
	case "sweep":
		withLock(l, func() { err = p.Sweep(time.Now()) })
	case "reprocess":
		withLock(l, func() { err = p.Reprocess() })
	case "enqueue":
		recipient, sender := "", ""
		if len(args) > 0 {
			recipient = args[0]
		}
		if len(args) > 1 {
			sender = args[1]
		}
		_, err = p.Ingest(os.Stdin, recipient, sender)
	case "unspam":
		err = fileAction(args, func(fpath string) error {
			_, aerr := p.Unspam(fpath)
			return aerr
		})
	case "redrive":
		err = fileAction(args, func(fpath string) error {
			_, aerr := p.Redrive(fpath)
			return aerr
		})
	case "rm":
		err = fileAction(args, p.Delete)
	case "list":
		err = list(p, args)
	case "adddest":
		err = addDestination(st, args)
	default:
		usage()
		os.Exit(1)
	}

	if cfg.CacheFile != "" {
		if serr := cache.Save(cfg.CacheFile); serr != nil {
			log.Warnf("could not save dedup cache: %s", serr.Error())
		}
	}
	if err != nil {
		log.Fatal(err)
	}
}

// run f under the scheduler lock, skipping the tick when another run
// holds it
func withLock(l *lock.Lock, f func()) {
	ok, err := l.Acquire()
	if err != nil {
		log.Fatalf("could not take lock: %s", err.Error())
	}
	if !ok {
		log.Warn("queue is locked by another run, skipping")
		return
	}
	defer l.Release()
	f()
}

func fileAction(args []string, f func(string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one file argument")
	}
	return f(args[0])
}

func list(p *pipeline.Pipeline, args []string) (err error) {
	if len(args) != 1 {
		return fmt.Errorf("expected a state: queue|quarantine|unknown|bad|processed|orphans")
	}
	if args[0] == "orphans" {
		var orphans []string
		orphans, err = p.Orphans()
		for _, fpath := range orphans {
			fmt.Println(fpath)
		}
		return
	}
	var rows []pipeline.Summary
	rows, err = p.Summarize(queuedir.State(args[0]))
	for _, row := range rows {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n", row.File, row.To, row.From, row.Subject, row.Date, row.Reason)
	}
	return
}

// maintenance helper creating a destination record so a site can be
// set up without the external admin surface
func addDestination(st store.Store, args []string) (err error) {
	if len(args) < 3 {
		return fmt.Errorf("expected: adddest category field addr [addr...]")
	}
	d := &model.Destination{
		Category: args[0],
		Fields:   map[string]string{},
	}
	for _, addr := range args[2:] {
		if d.Fields[args[1]] != "" {
			d.Fields[args[1]] += "\n"
		}
		d.Fields[args[1]] += addr
	}
	err = st.AddDestination(d)
	if err == nil {
		log.Infof("created destination %d (%s)", d.Id, d.Category)
	}
	return
}
