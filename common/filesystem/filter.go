package filesystem

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"github.com/dsnet/golib/unitconv"
	"github.com/expr-lang/expr"
)

// FileInfo holds the fields of a source file available to filter expressions. Filters only see
// regular files, directories are always descended into.
type FileInfo struct {
	Path  string    // Path relative to the walked root
	Dir   string    // Directory part of Path, "" for files directly below the root
	Name  string    // Base name of the file
	Stem  string    // Base name without the extension
	Ext   string    // Lower case extension without the leading dot
	Size  int64     // File size in bytes
	Mtime time.Time // Modification time
}

var (
	timeRe  = regexp.MustCompile(`\b(?i)(mtime)\s*(<=|>=|<|>)\s*([0-9]+(?:\.[0-9]+)?[smhdMyw]+)\b`)
	sizeRe  = regexp.MustCompile(`\b(?i)(size)\s*(<=|>=|<|>|!=|==)\s*([0-9]+(?:\.[0-9]+)?(?:[kKMGT]i?B?|B))`)
	identRe = regexp.MustCompile(`\b(?i)(mtime|size|name|stem|ext|path|dir)\b`)
	fieldMap = map[string]string{
		"mtime": "Mtime", "size": "Size", "name": "Name", "stem": "Stem", "ext": "Ext",
		"path": "Path", "dir": "Dir",
	}
)

const FilterFilesHelp = "Filter source files by expression: fields(name/stem/path/dir/ext <string>, " +
	"mtime <duration[like 1s, 2m, 3h, 4d, 5M, 10y]>, size <bytes[like 1B, 2KB, 3MiB, 4GiB]>); " +
	"operators(==,!=,<,>,<=,>=,in); helpers(glob([name|path], pattern), regex([name|path], pattern)); " +
	"logic(and|or|not); Example: --filter=\"mtime < 7d and ext in ['jpg', 'png'] and glob(path, 'projects/**')\""

type FileInfoFilter func(FileInfo) (bool, error)

// CompileFilter turns a DSL expression into a filter function.
func CompileFilter(query string) (FileInfoFilter, error) {
	prog, err := expr.Compile(preprocessDSL(query),
		expr.Env(FileInfo{}),
		expr.AsBool(),
		expr.Function("ago", func(params ...any) (any, error) { return ago(params[0].(string)) }),
		expr.Function("bytes", func(params ...any) (any, error) { return parseBytes(params[0].(string)) }),
		expr.Function("glob", func(params ...any) (any, error) { return globMatch(params[0].(string), params[1].(string)) }),
		expr.Function("regex", func(params ...any) (any, error) { return regexMatch(params[0].(string), params[1].(string)) }),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", query, err)
	}

	return func(fi FileInfo) (bool, error) {
		out, err := expr.Run(prog, fi)
		if err != nil {
			return false, fmt.Errorf("filter eval %q on %s: %w", query, fi.Path, err)
		}
		return out.(bool), nil
	}, nil
}

// preprocessDSL rewrites the user facing shorthands (relative times, sizes with units and lower
// case field names) into expressions expr can evaluate against FileInfo.
func preprocessDSL(q string) string {
	// "mtime > 1d" reads as "older than one day", which is an earlier timestamp.
	q = timeRe.ReplaceAllStringFunc(q, func(m string) string {
		parts := timeRe.FindStringSubmatch(m)
		op := map[string]string{">": "<", "<": ">", ">=": "<=", "<=": ">="}[parts[2]]
		return fmt.Sprintf("Mtime %s ago(%q)", op, parts[3])
	})
	q = sizeRe.ReplaceAllString(q, `$1 $2 bytes("$3")`)
	q = identRe.ReplaceAllStringFunc(q, func(s string) string {
		if goF, ok := fieldMap[strings.ToLower(s)]; ok {
			return goF
		}
		return s
	})
	return q
}

func ToFileInfo(relPath string, info os.FileInfo) FileInfo {
	ext := path.Ext(info.Name())
	dir := path.Dir(relPath)
	if dir == "." {
		dir = ""
	}
	return FileInfo{
		Path:  relPath,
		Dir:   dir,
		Name:  info.Name(),
		Stem:  strings.TrimSuffix(info.Name(), ext),
		Ext:   strings.ToLower(strings.TrimPrefix(ext, ".")),
		Size:  info.Size(),
		Mtime: info.ModTime(),
	}
}

func ago(durationStr string) (time.Time, error) {
	d, err := parseExtendedDuration(durationStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

// parseExtendedDuration adds days (d), weeks (w), months (M) and years (y) to the Go duration
// syntax.
func parseExtendedDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	var factor time.Duration
	num, unit := s[:len(s)-1], s[len(s)-1:]
	switch unit {
	case "d":
		factor = 24 * time.Hour
	case "w":
		factor = 7 * 24 * time.Hour
	case "M":
		factor = 30 * 24 * time.Hour
	case "y":
		factor = 365 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(f * float64(factor)), nil
}

// parseBytes accepts SI (KB, MB) and IEC (KiB, MiB) units. The trailing B is optional.
func parseBytes(sizeStr string) (int64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(sizeStr), "B")
	// unitconv uses a lower case k for the SI kilo prefix.
	if base, ok := strings.CutSuffix(s, "K"); ok {
		s = base + "k"
	}
	if s == "" {
		return 0, fmt.Errorf("invalid size %q", sizeStr)
	}
	v, err := unitconv.ParsePrefix(s, unitconv.AutoParse)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	return int64(v), nil
}

// globMatch uses doublestar so patterns like 'projects/**/*.png' work on relative paths.
func globMatch(s, pattern string) (bool, error) {
	return doublestar.Match(pattern, s)
}

func regexMatch(s, pattern string) (bool, error) {
	return regexp.MatchString(pattern, s)
}

// ApplyFilter returns whether the file should be kept. A nil filter keeps every file.
func ApplyFilter(relPath string, info os.FileInfo, filter FileInfoFilter) (bool, error) {
	if filter == nil {
		return true, nil
	}
	keep, err := filter(ToFileInfo(relPath, info))
	if err != nil {
		return false, fmt.Errorf("unable to apply filter: %w", err)
	}
	return keep, nil
}
