package model

import (
	"time"
)

// durable output of successful processing, created exactly once per
// (message, matched destination) pair
type Received struct {
	Id            int64 `xorm:"pk autoincr"`
	DestinationId int64 `xorm:"index"`

	Sender     string
	Addressees string
	Subject    string
	Body       string
	// whether Body holds sanitized html rather than plain text
	HTML bool

	// newline separated paths of extracted attachment files
	Images string
	Files  string

	// back reference to the processed message file. a record whose
	// file outlives it makes that file an orphan.
	Filename string `xorm:"index"`

	Created time.Time `xorm:"created"`
}

func (r *Received) AddImage(fpath string) {
	r.Images = appendLine(r.Images, fpath)
}

func (r *Received) AddFile(fpath string) {
	r.Files = appendLine(r.Files, fpath)
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
