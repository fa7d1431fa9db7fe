package job

import (
	"strconv"
	"strings"
)

// Field reads a scalar attribute by dotted path. Paths that name a collection
// ("headers", "parameters", "client") or nothing at all yield "".
//
//	method protocol host port path query url uri id
//	headers.<name> parameters.<name> client.ip client.port
func (j *Job) Field(p string) string {
	head, rest, nested := strings.Cut(strings.TrimSpace(p), ".")
	switch strings.ToLower(head) {
	case "method":
		return scalar(nested, j.method)
	case "protocol":
		return scalar(nested, j.protocol)
	case "host":
		return scalar(nested, j.host)
	case "port":
		if j.port == 0 {
			return ""
		}
		return scalar(nested, strconv.Itoa(j.port))
	case "path":
		return scalar(nested, j.path)
	case "query":
		return scalar(nested, j.Query())
	case "url":
		return scalar(nested, j.URL())
	case "uri":
		return scalar(nested, j.URI())
	case "id":
		return scalar(nested, j.id)
	case "headers":
		if !nested || strings.Contains(rest, ".") {
			return ""
		}
		return j.headers.Get(rest)
	case "parameters":
		if !nested || strings.Contains(rest, ".") {
			return ""
		}
		return j.params[rest]
	case "client":
		switch strings.ToLower(rest) {
		case "ip":
			return j.client.IP
		case "port":
			return j.client.Port
		}
	}
	return ""
}

// SetField writes a scalar attribute by dotted path and reports whether the
// path was addressable.
func (j *Job) SetField(p, value string) bool {
	head, rest, nested := strings.Cut(strings.TrimSpace(p), ".")
	head = strings.ToLower(head)
	if nested {
		if rest == "" || strings.Contains(rest, ".") {
			return false
		}
		switch head {
		case "headers":
			j.SetHeader(rest, value)
			return true
		case "parameters":
			j.SetParameter(rest, value)
			return true
		case "client":
			switch strings.ToLower(rest) {
			case "ip":
				j.client.IP = value
				return true
			case "port":
				j.client.Port = value
				return true
			}
		}
		return false
	}

	switch head {
	case "method":
		j.SetMethod(value)
	case "protocol":
		j.SetProtocol(value)
	case "host":
		j.SetHost(value)
	case "port":
		j.SetPort(value)
	case "path":
		j.SetPath(value)
	case "query":
		j.SetQuery(value)
	case "url":
		return j.SetURL(value) == nil
	case "uri":
		return j.SetURI(value) == nil
	default:
		return false
	}
	return true
}

// Snapshot returns the addressable attributes as nested maps, for policy and
// expression inputs.
func (j *Job) Snapshot() map[string]any {
	headers := make(map[string]any, len(j.headers))
	for k, v := range j.headers {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	params := make(map[string]any, len(j.params))
	for k, v := range j.params {
		params[k] = v
	}
	port := ""
	if j.port != 0 {
		port = strconv.Itoa(j.port)
	}
	return map[string]any{
		"id":         j.id,
		"method":     j.method,
		"protocol":   j.protocol,
		"host":       j.host,
		"port":       port,
		"path":       j.path,
		"query":      j.Query(),
		"url":        j.URL(),
		"uri":        j.URI(),
		"headers":    headers,
		"parameters": params,
		"client": map[string]any{
			"ip":   j.client.IP,
			"port": j.client.Port,
		},
	}
}

func scalar(nested bool, v string) string {
	if nested {
		return ""
	}
	return v
}
