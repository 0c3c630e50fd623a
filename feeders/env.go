package feeders

import (
	"os"
	"strings"
)

// EnvFeeder overlays environment variables onto a configuration map.
// A variable PREFIX_A_B_C becomes the dotted key a.b.c, so environment
// values override file-fed values for the same key when the feeder runs
// after a file feeder.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates a new EnvFeeder for variables carrying the given
// prefix (without trailing underscore), e.g. "LOTUS".
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed scans the process environment and writes matching variables into
// target as nested maps.
func (e EnvFeeder) Feed(target map[string]interface{}) error {
	prefix := e.Prefix + "_"
	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), "_")
		setPath(target, path, value)
	}
	return nil
}

// setPath writes value at the nested location named by path, creating
// intermediate maps and replacing non-map intermediates.
func setPath(target map[string]interface{}, path []string, value interface{}) {
	current := target
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

// mergeMaps deep-merges src into dst; scalar conflicts resolve in src's
// favor so later feeders override earlier ones.
func mergeMaps(dst, src map[string]interface{}) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]interface{})
		dstMap, dstIsMap := dst[key].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}
