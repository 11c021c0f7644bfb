package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

// html cleaning boundary. the pipeline never stores html bodies that
// have not been through a Cleaner.
type Cleaner interface {
	Clean(html string) string
}

type policyCleaner struct {
	p *bluemonday.Policy
}

// default cleaner: user generated content policy with links forced to
// open outside the embedding frame
func New() Cleaner {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return &policyCleaner{p: p}
}

func (c *policyCleaner) Clean(html string) string {
	return c.p.Sanitize(html)
}
