package tiercache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes a namespace and a set of key/value parameters into a
// stable cache key. Parameter order does not matter and empty values are
// ignored, so {"white": "x", "event": ""} and {"white": "x"} collide.
func Fingerprint(ns string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ns)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return ns + ":" + strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}
