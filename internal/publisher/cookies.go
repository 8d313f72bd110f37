package publisher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

const httpOnlyPrefix = "#HttpOnly_"

// LoadCookies reads a Netscape-format cookie file
func LoadCookies(path string) ([]*proto.NetworkCookieParam, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseNetscapeCookies(f)
}

// ParseNetscapeCookies parses the tab-separated cookies.txt format:
// domain, include-subdomains, path, secure, expiry, name, value
func ParseNetscapeCookies(r io.Reader) ([]*proto.NetworkCookieParam, error) {
	var cookies []*proto.NetworkCookieParam

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 tab-separated fields, got %d", lineNo, len(fields))
		}

		cookie := &proto.NetworkCookieParam{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			HTTPOnly: httpOnly,
			Name:     fields[5],
			Value:    strings.Join(fields[6:], "\t"),
		}

		if expiry, err := strconv.ParseFloat(fields[4], 64); err == nil && expiry > 0 {
			cookie.Expires = proto.TimeSinceEpoch(expiry)
		}

		cookies = append(cookies, cookie)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies found")
	}

	return cookies, nil
}
