package job

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/domain"
)

var (
	reURI = regexp.MustCompile(`^(([^:]*)://)?(.*@)?([^@:/?]*):?(\d*)(.*)$`)
	reURL = regexp.MustCompile(`^([^?#]*)(\?[^#]*)?`)
)

// Protocol returns the lowercased scheme.
func (j *Job) Protocol() string { return j.protocol }

// SetProtocol sets the scheme.
func (j *Job) SetProtocol(v string) {
	j.protocol = strings.ToLower(v)
	j.uriValid = false
}

// Host returns the lowercased host name.
func (j *Job) Host() string { return j.host }

// SetHost sets the host name.
func (j *Job) SetHost(v string) {
	j.host = strings.ToLower(v)
	j.uriValid = false
}

// Port returns the port, or 0 when none is set.
func (j *Job) Port() int { return j.port }

// SetPort parses the leading digits of v; anything else clears the port.
func (j *Job) SetPort(v string) {
	j.port = leadingInt(v)
	j.uriValid = false
}

// Path returns the normalized path.
func (j *Job) Path() string { return j.path }

// SetPath stores v as an absolute, dot-free path: "/a/../b" becomes "/b".
func (j *Job) SetPath(v string) {
	j.path = path.Clean("/" + v + "/.")
	j.urlValid = false
	j.uriValid = false
}

// Query returns "?k=v&..." built from the parameters, or "".
func (j *Job) Query() string {
	if !j.queryValid {
		if len(j.paramKeys) == 0 {
			j.query = ""
		} else {
			var b strings.Builder
			b.WriteByte('?')
			for i, k := range j.paramKeys {
				if i > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(j.params[k])
			}
			j.query = b.String()
		}
		j.queryValid = true
	}
	return j.query
}

// SetQuery replaces all parameters with those parsed from v ("?x=1&y").
func (j *Job) SetQuery(v string) {
	j.resetParams()
	v = strings.TrimLeft(v, "?")
	for _, pair := range strings.Split(v, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		j.putParam(key, value)
	}
	j.invalidateQuery()
}

// Parameter returns one query parameter.
func (j *Job) Parameter(key string) (string, bool) {
	v, ok := j.params[key]
	return v, ok
}

// Parameters returns a copy of the query parameters.
func (j *Job) Parameters() map[string]string {
	out := make(map[string]string, len(j.params))
	for k, v := range j.params {
		out[k] = v
	}
	return out
}

// SetParameter sets one query parameter.
func (j *Job) SetParameter(key, value string) {
	j.putParam(key, value)
	j.invalidateQuery()
}

// DeleteParameter removes one query parameter.
func (j *Job) DeleteParameter(key string) {
	if _, ok := j.params[key]; !ok {
		return
	}
	delete(j.params, key)
	for i, k := range j.paramKeys {
		if k == key {
			j.paramKeys = append(j.paramKeys[:i], j.paramKeys[i+1:]...)
			break
		}
	}
	j.invalidateQuery()
}

// SetParameters replaces all query parameters.
func (j *Job) SetParameters(params map[string]string) {
	j.resetParams()
	for k, v := range params {
		j.putParam(k, v)
	}
	j.invalidateQuery()
}

// URL returns path + query.
func (j *Job) URL() string {
	if !j.urlValid {
		j.url = j.path + j.Query()
		j.urlValid = true
	}
	return j.url
}

// SetURL splits v into path and query.
func (j *Job) SetURL(v string) error {
	parts := reURL.FindStringSubmatch(v)
	if parts == nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidURL, v)
	}
	j.SetPath(parts[1])
	j.SetQuery(parts[2])
	return nil
}

// URI returns protocol://host[:port]url.
func (j *Job) URI() string {
	if !j.uriValid {
		var b strings.Builder
		b.WriteString(j.protocol)
		b.WriteString("://")
		b.WriteString(j.host)
		if j.port != 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(j.port))
		}
		b.WriteString(j.URL())
		j.uri = b.String()
		j.uriValid = true
	}
	return j.uri
}

// SetURI parses v into protocol, host, port and url. User info is discarded.
func (j *Job) SetURI(v string) error {
	parts := reURI.FindStringSubmatch(v)
	if parts == nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidURI, v)
	}
	j.SetProtocol(parts[2])
	j.SetHost(parts[4])
	j.SetPort(parts[5])
	return j.SetURL(parts[6])
}

func (j *Job) resetParams() {
	if j.params == nil {
		j.params = make(map[string]string)
	} else {
		clear(j.params)
	}
	j.paramKeys = j.paramKeys[:0]
}

func (j *Job) putParam(key, value string) {
	if j.params == nil {
		j.params = make(map[string]string)
	}
	if _, ok := j.params[key]; !ok {
		j.paramKeys = append(j.paramKeys, key)
	}
	j.params[key] = value
}

func (j *Job) invalidateQuery() {
	j.queryValid = false
	j.urlValid = false
	j.uriValid = false
}

func leadingInt(v string) int {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	return n
}
