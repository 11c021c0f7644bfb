package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// routing policy, read fresh per run so configuration changes apply to
// the next invocation without a restart
type Policy struct {
	// destination categories that are valid routing targets
	CategoryTemplates []string `yaml:"categoryTemplates"`
	// destination address fields matched against recipient addresses
	EmailToFields []string `yaml:"emailToFields"`

	// field bindings on received mail records
	FromField       string `yaml:"emailFromField"`
	AddresseesField string `yaml:"addresseesField"`
	SubjectField    string `yaml:"emailSubjectField"`
	BodyField       string `yaml:"emailBodyField"`
	// whether the body binding is html typed; plain text otherwise
	BodyHTML    bool   `yaml:"emailBodyHTML"`
	ImagesField string `yaml:"emailImagesField"`
	FilesField  string `yaml:"emailFilesField"`

	// newline separated addresses or domains
	BlackList string `yaml:"blackList"`
	WhiteList string `yaml:"whiteList"`

	SPFCheck  bool `yaml:"spfCheck"`
	DKIMCheck bool `yaml:"dkimCheck"`

	// retention per terminal state in days, 0 keeps forever
	RetentionProcessed  int `yaml:"retentionProcessed"`
	RetentionOrphans    int `yaml:"retentionOrphans"`
	RetentionUnknown    int `yaml:"retentionUnknown"`
	RetentionQuarantine int `yaml:"retentionQuarantine"`
	RetentionBad        int `yaml:"retentionBad"`
}

// site configuration: where things live plus the routing policy
type Config struct {
	// root of the state directory tree
	QueueRoot string `yaml:"queueRoot"`
	// sqlite database url for the record store
	Database string `yaml:"database"`
	// directory receiving extracted attachment files
	FilesDir string `yaml:"filesDir"`
	// scheduler mutual exclusion lock file
	LockFile string `yaml:"lockFile"`
	// persisted duplicate suppression cache
	CacheFile string `yaml:"cacheFile"`

	Policy Policy `yaml:"policy"`
}

func Load(fname string) (c *Config, err error) {
	var data []byte
	data, err = os.ReadFile(fname)
	if err == nil {
		c = &Config{}
		err = yaml.Unmarshal(data, c)
		if err != nil {
			c = nil
		}
	}
	return
}

// black list entries, lowercased, one address or domain each
func (p *Policy) Blacklisted() []string {
	return splitList(p.BlackList)
}

// white list entries, lowercased
func (p *Policy) Whitelisted() []string {
	return splitList(p.WhiteList)
}

func splitList(list string) (out []string) {
	for _, line := range strings.Split(strings.ToLower(list), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return
}
