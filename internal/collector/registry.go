package collector

import (
	"os"
	"strconv"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/registry"
)

// Kind is the registry kind used for collectors.
const Kind = "collector"

// FromPaths builds a collector registry with one FileFeed per path. Every
// path must exist; names that collide get a numeric suffix.
func FromPaths(paths []string) (*registry.Registry[engine.Collector], error) {
	reg := registry.New[engine.Collector](Kind)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, goerr.Wrap(err, "feed path not accessible", goerr.V("path", p))
		}
		feed := NewFileFeed(p)
		name := feed.Name()
		for i := 2; ; i++ {
			if _, err := reg.Get(name); err != nil {
				break
			}
			name = feed.Name() + "-" + strconv.Itoa(i)
		}
		if err := reg.Register(name, feed); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
