package httputil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLen keeps derived names well under the 255-byte limit of
// common filesystems once an extension is appended.
const maxFilenameLen = 200

var (
	// unsafeFilenameChars matches everything SecureFilename drops.
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

	dotRuns = regexp.MustCompile(`\.{2,}`)

	pathSeparators = strings.NewReplacer("/", " ", "\\", " ")
)

// ValidateMediaURL checks that a URL submitted for download is well-formed
// and points at an http or https host.
func ValidateMediaURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("only http and https URLs are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// SecureFilename turns an arbitrary title into a name that is safe to use as
// a single path component: ASCII letters, digits, '_', '.' and '-' only, with
// runs of whitespace collapsed to '_'. Applying it twice is a no-op.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)
	name = pathSeparators.Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = dotRuns.ReplaceAllString(name, ".")
	name = strings.Trim(name, "._")

	if len(name) > maxFilenameLen {
		name = strings.Trim(name[:maxFilenameLen], "._")
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// ValidateFilename rejects names that could address anything other than a
// plain file directly inside a store directory.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("filename too long: %d characters", len(name))
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("filename contains a path separator: %q", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("filename contains path traversal: %q", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("hidden filename not allowed: %q", name)
	}
	return nil
}

// SafePath joins dir and filename after validating the name, and verifies the
// result stays within dir.
func SafePath(dir, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	resolved := filepath.Join(absDir, filename)
	if !strings.HasPrefix(resolved, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", resolved, absDir)
	}

	return resolved, nil
}

// BuildURL constructs a URL from base and path components, encoding each path segment.
func BuildURL(base string, pathSegments ...string) string {
	u := strings.TrimRight(base, "/")
	for _, seg := range pathSegments {
		u += "/" + url.PathEscape(seg)
	}
	return u
}
