package language

import (
	"os"

	"judgecore/internal/durationfmt"
	appErr "judgecore/pkg/errors"

	"gopkg.in/yaml.v3"
)

// yamlEntry mirrors one row of the on-disk language table file.
type yamlEntry struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"` // "compiler" | "interpreter"
	SourceFile     string   `yaml:"source_filename"`
	CompilerFile   string   `yaml:"compiler_file"`
	CompilerArgv   []string `yaml:"compiler_argv"`
	TimeLimit      string   `yaml:"time_limit"`
	MemoryLimit    string   `yaml:"memory_limit"`
	ProcessLimit   int64    `yaml:"process_limit"`
	ExecuteFile    string   `yaml:"execute_file"`
	ExecuteArgv    []string `yaml:"execute_argv"`
}

// DefaultCompileTimeLimitNs and DefaultCompileMemoryBytes are applied to
// a Compiler entry that omits its own limits, per original_source/jd4's
// compile.py DEFAULT_TIME="40s" / DEFAULT_MEMORY="256m".
const (
	DefaultCompileTimeLimitNs  = 40_000_000_000
	DefaultCompileMemoryBytes  = 256 << 20
	ProcessLimit               = 64
)

// Catalog is the process-wide table of known languages, injected into
// the Builder at daemon startup. It is built once and never mutated.
type Catalog struct {
	entries map[string]Entry
}

// NewCatalog builds a Catalog from already-parsed entries. Exposed for
// tests; LoadCatalogFile is the production entry point.
func NewCatalog(entries []Entry) *Catalog {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return &Catalog{entries: m}
}

// LoadCatalogFile reads a YAML language table from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "read language table %s", path)
	}
	var raw []yamlEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse language table %s", path)
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		e := Entry{
			Name:           r.Name,
			SourceFilename: r.SourceFile,
			CompilerFile:   r.CompilerFile,
			CompilerArgv:   r.CompilerArgv,
			ProcessLimit:   r.ProcessLimit,
			ExecuteFile:    r.ExecuteFile,
			ExecuteArgv:    r.ExecuteArgv,
		}
		switch r.Kind {
		case "compiler", "":
			e.Kind = CompilerKind
		case "interpreter":
			e.Kind = InterpreterKind
		default:
			return nil, appErr.Newf(appErr.InvalidFormat, "language %q: unknown kind %q", r.Name, r.Kind)
		}

		if e.Kind == CompilerKind {
			if r.TimeLimit != "" {
				ns, err := durationfmt.ParseDurationNs(r.TimeLimit)
				if err != nil {
					return nil, appErr.Wrapf(err, appErr.InvalidFormat, "language %q time_limit", r.Name)
				}
				e.TimeLimitNs = ns
			} else {
				e.TimeLimitNs = DefaultCompileTimeLimitNs
			}
			if r.MemoryLimit != "" {
				b, err := durationfmt.ParseMemoryBytes(r.MemoryLimit)
				if err != nil {
					return nil, appErr.Wrapf(err, appErr.InvalidFormat, "language %q memory_limit", r.Name)
				}
				e.MemoryLimit = b
			} else {
				e.MemoryLimit = DefaultCompileMemoryBytes
			}
			if e.ProcessLimit == 0 {
				e.ProcessLimit = ProcessLimit
			}
		}
		entries = append(entries, e)
	}
	return NewCatalog(entries), nil
}

// Lookup returns the entry registered under name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// MustLookup is Lookup plus a LanguageNotSupported-coded error on miss;
// the orchestrator reports that error as a fatal SYSTEM_ERROR, matching
// spec.md §4.E's "unknown language -> fatal SYSTEM_ERROR" failure mode.
func (c *Catalog) MustLookup(name string) (Entry, error) {
	e, ok := c.Lookup(name)
	if !ok {
		return Entry{}, appErr.Newf(appErr.LanguageNotSupported, "unknown language %q", name)
	}
	return e, nil
}
