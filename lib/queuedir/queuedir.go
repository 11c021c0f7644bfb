package queuedir

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/emailpipe/mailpipe/lib/mailfile"
	log "github.com/sirupsen/logrus"
)

// lifecycle state of a message file, encoded by its containing directory
type State string

const (
	Queue      = State("queue")
	Quarantine = State("quarantine")
	Unknown    = State("unknown")
	Bad        = State("bad")
	Processed  = State("processed")
)

// all states, in the order they are created on disk
var States = []State{Queue, Quarantine, Unknown, Bad, Processed}

// states holding failed files that the reprocess trigger re-queues
var FailStates = []State{Quarantine, Unknown, Bad}

// root directory holding one subdirectory per state
type Root string

func (r Root) String() (str string) {
	str = string(r)
	return
}

// ensure the state directory tree is well formed
func (r Root) Ensure() (err error) {
	dir := r.String()
	_, err = os.Stat(dir)
	if os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0750)
	}
	if err == nil {
		for _, st := range States {
			subdir := r.Dir(st)
			_, err = os.Stat(subdir)
			if os.IsNotExist(err) {
				err = os.Mkdir(subdir, 0750)
			}
			if err != nil {
				break
			}
		}
	}
	return
}

// directory for a state
func (r Root) Dir(st State) string {
	return filepath.Join(r.String(), string(st))
}

// path a file would have in a state, keeping its name
func (r Root) PathIn(fpath string, st State) string {
	return filepath.Join(r.Dir(st), filepath.Base(fpath))
}

// list message files in a state, sorted by name, oldest first
func (r Root) List(st State) (files []string, err error) {
	files, err = filepath.Glob(filepath.Join(r.Dir(st), "*"+mailfile.Ext))
	sort.Strings(files)
	return
}

// write a new message into the queue state.
// the write goes to a .tmp name first, invisible to List, so a half
// written file is never picked up by a concurrent drain, then renamed
// into place.
func (r Root) Enqueue(body io.Reader) (fpath string, err error) {
	fname := mailfile.Name()
	tmp := filepath.Join(r.Dir(Queue), fname+".tmp")
	var f *os.File
	f, err = os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err == nil {
		_, err = io.Copy(f, body)
		f.Close()
		if err == nil {
			fpath = filepath.Join(r.Dir(Queue), fname)
			err = os.Rename(tmp, fpath)
		}
		if err != nil {
			os.Remove(tmp)
			fpath = ""
		}
	}
	return
}

// move a message file into another state with an atomic rename.
// a vanished source means another run already handled the file; that
// is reported as an empty path, not an error. rename reports a missing
// target directory the same way, so the source is checked before the
// failure is forgiven.
func (r Root) MoveTo(fpath string, st State) (newpath string, err error) {
	newpath = r.PathIn(fpath, st)
	err = os.Rename(fpath, newpath)
	if err != nil {
		newpath = ""
		if os.IsNotExist(err) {
			if _, serr := os.Stat(fpath); serr != nil {
				log.Warnf("file already handled elsewhere: %s", fpath)
				err = nil
			}
		}
	}
	return
}

// remove a message file. a vanished file is already handled.
func (r Root) Remove(fpath string) (err error) {
	err = os.Remove(fpath)
	if os.IsNotExist(err) {
		err = nil
	}
	return
}

// delete files in a state whose modification time is before the
// retention cutoff. days <= 0 means keep forever. files for which
// keep returns true are skipped.
func (r Root) PurgeOlderThan(st State, days int, now time.Time, keep func(fpath string) bool) (n int, err error) {
	if days <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -days)
	var files []string
	files, err = r.List(st)
	for _, fpath := range files {
		info, serr := os.Stat(fpath)
		if serr != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if keep != nil && keep(fpath) {
			continue
		}
		log.Infof("deleting file: %s", fpath)
		if r.Remove(fpath) == nil {
			n++
		}
	}
	return
}
