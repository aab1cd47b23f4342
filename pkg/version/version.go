package version

import "fmt"

var (
	// Tag and GitCommit are set at build time with -ldflags.
	Tag       = "v0.0.0-dev"
	GitCommit = "HEAD"
)

type Version struct {
	Tag       string `json:"tag"`
	GitCommit string `json:"gitCommit"`
}

func Get() Version {
	return Version{
		Tag:       Tag,
		GitCommit: GitCommit,
	}
}

func (v Version) String() string {
	return fmt.Sprintf("%s (%s)", v.Tag, v.GitCommit)
}
