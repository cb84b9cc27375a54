package proxy

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/slok/slotrunner/internal/model"
)

// Parse parses a single proxy line.
//
// Supported layouts (detected from the 4th colon delimited field):
//   - Standard: `host:port:username:password`.
//   - SOAX: `host:port:auth-token:region-tags`, the 4th field is a `;` separated tag
//     list. The auth token is used as the username without password and the second
//     tag is the region.
func Parse(line string) (model.ProxyEndpoint, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 3 {
		return model.ProxyEndpoint{}, fmt.Errorf("proxy %q must have at least 3 colon separated fields: %w", line, model.ErrNotValid)
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return model.ProxyEndpoint{}, fmt.Errorf("proxy %q has an empty host: %w", line, model.ErrNotValid)
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return model.ProxyEndpoint{}, fmt.Errorf("proxy %q has an invalid port: %w", line, model.ErrNotValid)
	}
	if port < 1 || port > 65535 {
		return model.ProxyEndpoint{}, fmt.Errorf("proxy %q port %d out of range (1-65535): %w", line, port, model.ErrNotValid)
	}

	p := model.ProxyEndpoint{
		Host:     host,
		Port:     port,
		Username: parts[2],
		Region:   model.UnknownProxyRegion,
		Layout:   model.ProxyLayoutStandard,
	}
	if len(parts) < 4 {
		return p, nil
	}

	fourth := parts[3]
	if !strings.Contains(fourth, ";") {
		p.Password = fourth
		return p, nil
	}

	p.Layout = model.ProxyLayoutSOAX
	tags := strings.Split(fourth, ";")
	if len(tags) > 1 && strings.TrimSpace(tags[1]) != "" {
		p.Region = strings.TrimSpace(tags[1])
	}

	return p, nil
}

// ParseList parses a newline delimited proxy list. Blank lines and lines starting with `#`
// are ignored.
func ParseList(r io.Reader) ([]model.ProxyEndpoint, error) {
	var proxies []model.ProxyEndpoint

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read proxy list: %w", err)
	}

	return proxies, nil
}

// Index returns the deterministic round robin proxy index for a task.
// Returns -1 if there are no proxies.
func Index(batchIndex, taskIndex, batchSize, total int) int {
	if total <= 0 {
		return -1
	}

	i := (batchIndex*batchSize + taskIndex) % total
	if i < 0 {
		i += total
	}
	return i
}

// Assign returns the proxy for a task, nil when the proxy list is empty (the task
// will run without proxy).
func Assign(batchIndex, taskIndex, batchSize int, proxies []model.ProxyEndpoint) *model.ProxyEndpoint {
	i := Index(batchIndex, taskIndex, batchSize, len(proxies))
	if i < 0 {
		return nil
	}

	return &proxies[i]
}
