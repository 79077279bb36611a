package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveOrigins turns the positional PORT arguments, the -f/--file
// list, and "." (meaning the current directory relative to portsDir)
// into a deduplicated, order-preserving list of category/name origins.
func resolveOrigins(positional []string, filePath, portsDir string) ([]string, error) {
	var raw []string
	raw = append(raw, positional...)

	if filePath != "" {
		lines, err := readOriginFile(filePath)
		if err != nil {
			return nil, err
		}
		raw = append(raw, lines...)
	}

	seen := make(map[string]bool)
	var out []string
	for _, o := range raw {
		origin, err := normalizeOrigin(o, portsDir)
		if err != nil {
			return nil, err
		}
		if !seen[origin] {
			seen[origin] = true
			out = append(out, origin)
		}
	}
	return out, nil
}

// normalizeOrigin resolves "." to the current directory's
// category/name relative to portsDir; anything else is passed through.
func normalizeOrigin(origin, portsDir string) (string, error) {
	if origin != "." {
		return origin, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve \".\": %w", err)
	}
	rel, err := filepath.Rel(portsDir, cwd)
	if err != nil {
		return "", fmt.Errorf("resolve \".\": %s is not under ports dir %s: %w", cwd, portsDir, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("resolve \".\": %s is not under ports dir %s", cwd, portsDir)
	}
	return filepath.ToSlash(rel), nil
}

// readOriginFile reads one origin per line from path (or stdin if
// path is "-"), skipping blank lines and lines starting with "#".
func readOriginFile(path string) ([]string, error) {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read origin file %s: %w", path, err)
		}
		defer f.Close()
	}

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// parseVars parses "KEY=VALUE" entries from -V/--vars into a map.
func parseVars(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -V/--vars entry %q, expected KEY=VALUE", e)
		}
		out[k] = v
	}
	return out, nil
}

// toSet converts a slice to a presence set.
func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}
