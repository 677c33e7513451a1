package problem

import (
	"io"
	"strings"

	"judgecore/internal/durationfmt"
	"judgecore/internal/language"
	appErr "judgecore/pkg/errors"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

const configName = "config.yaml"

// defaultJudgeLanguage is applied to a custom-judge case whose config
// entry omits judge_language. The YAML schema in spec.md §4.F does not
// carry a per-case judge language field; this default plus the optional
// override below is this module's resolution of that gap.
const defaultJudgeLanguage = "cxx"

type yamlLanguageOverride struct {
	Language     string `yaml:"language"`
	CompilerFile string `yaml:"compiler_file"`
	CompilerArgs string `yaml:"compiler_args"`
	ExecuteFile  string `yaml:"execute_file"`
	ExecuteArgs  string `yaml:"execute_args"`
}

type yamlCaseEntry struct {
	Input         string `yaml:"input"`
	Output        string `yaml:"output"`
	Judge         string `yaml:"judge"`
	JudgeLanguage string `yaml:"judge_language"`
	Time          string `yaml:"time"`
	Memory        string `yaml:"memory"`
	Score         int    `yaml:"score"`
	Category      string `yaml:"category"`
	ExecuteFile   string `yaml:"execute_file"`
	ExecuteArgs   string `yaml:"execute_args"`
}

type yamlConfig struct {
	Languages        []yamlLanguageOverride `yaml:"languages"`
	Cases            []yamlCaseEntry        `yaml:"cases"`
	CompileTimeFiles string                 `yaml:"compile_time_files"`
	RuntimeFiles     string                 `yaml:"runtime_files"`
}

// Config is a parsed problem-package descriptor bound to its bundle.
type Config struct {
	bundle *Bundle
	raw    yamlConfig
}

// LoadConfig parses the bundle's config.yaml. A bundle carrying
// config.ini, or a config.yaml with no top-level languages key, is
// treated as the unsupported legacy format per spec.md §9.
func LoadConfig(bundle *Bundle) (*Config, error) {
	if bundle.Has("config.ini") {
		return nil, appErr.New(appErr.ProblemBundleLegacyUnsup).WithMessage("legacy config.ini bundles are not supported")
	}
	if !bundle.Has(configName) {
		return nil, appErr.Newf(appErr.ProblemBundleCorrupt, "bundle is missing %s", configName)
	}

	rc, err := bundle.Open(configName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ProblemBundleCorrupt)
	}

	var presence map[string]interface{}
	if err := yaml.Unmarshal(data, &presence); err != nil {
		return nil, appErr.Wrapf(err, appErr.ProblemBundleCorrupt, "parse %s", configName)
	}
	if _, ok := presence["languages"]; !ok {
		return nil, appErr.New(appErr.ProblemBundleLegacyUnsup).WithMessage("config.yaml missing languages key (older schema)")
	}

	var cfg yamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, appErr.Wrapf(err, appErr.ProblemBundleCorrupt, "parse %s", configName)
	}
	return &Config{bundle: bundle, raw: cfg}, nil
}

// LanguageOverride returns the problem-specific compiler/execute override
// for lang, or nil if the problem descriptor carries none for it.
func (c *Config) LanguageOverride(lang string) (*language.Override, error) {
	for _, l := range c.raw.Languages {
		if l.Language != lang {
			continue
		}
		var compilerArgv, executeArgv []string
		var err error
		if l.CompilerArgs != "" {
			if compilerArgv, err = shlex.Split(l.CompilerArgs); err != nil {
				return nil, appErr.Wrapf(err, appErr.InvalidFormat, "language %q compiler_args", lang)
			}
		}
		if l.ExecuteArgs != "" {
			if executeArgv, err = shlex.Split(l.ExecuteArgs); err != nil {
				return nil, appErr.Wrapf(err, appErr.InvalidFormat, "language %q execute_args", lang)
			}
		}
		return &language.Override{
			CompilerFile: l.CompilerFile,
			CompilerArgv: compilerArgv,
			ExecuteFile:  l.ExecuteFile,
			ExecuteArgv:  executeArgv,
		}, nil
	}
	return nil, nil
}

// CompileTimeFiles returns a language.FileCallback extracting this
// problem's compile_time_files prefix, or nil if the descriptor doesn't
// carry one.
func (c *Config) CompileTimeFiles() language.FileCallback {
	return c.bundleExtractCallback(c.raw.CompileTimeFiles)
}

// RuntimeFiles returns a language.FileCallback extracting this problem's
// runtime_files prefix, or nil if the descriptor doesn't carry one.
func (c *Config) RuntimeFiles() language.FileCallback {
	return c.bundleExtractCallback(c.raw.RuntimeFiles)
}

func (c *Config) bundleExtractCallback(prefix string) language.FileCallback {
	if prefix == "" {
		return nil
	}
	bundle := c.bundle
	return func(dir string) error {
		return bundle.Extract(prefix, dir, false)
	}
}

// Cases returns the cases whose category is in categories, in ascending
// 1-based yield order, per spec.md §4.F's "index assigned in yield
// order" rule. An empty or nil categories set matches no case.
func (c *Config) Cases(categories map[string]bool) ([]Case, error) {
	var out []Case
	index := 1
	for _, raw := range c.raw.Cases {
		category := raw.Category
		if category == "" {
			category = "pretest"
		}
		if !categories[category] {
			continue
		}
		cs, err := c.buildCase(index, category, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
		index++
	}
	return out, nil
}

// CategorySet builds a membership set from a comma-separated
// judge_category descriptor field, matching the orchestrator's upstream
// submission descriptor in spec.md §6.
func CategorySet(commaSeparated string) map[string]bool {
	set := make(map[string]bool)
	for _, raw := range strings.Split(commaSeparated, ",") {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			set[raw] = true
		}
	}
	return set
}

func (c *Config) buildCase(index int, category string, raw yamlCaseEntry) (Case, error) {
	timeLimitNs, err := durationfmt.ParseDurationNs(raw.Time)
	if err != nil {
		return Case{}, appErr.Wrapf(err, appErr.InvalidFormat, "case %d time", index)
	}
	memoryLimitBytes, err := durationfmt.ParseMemoryBytes(raw.Memory)
	if err != nil {
		return Case{}, appErr.Wrapf(err, appErr.InvalidFormat, "case %d memory", index)
	}

	cs := Case{
		Index:            index,
		Category:         category,
		Score:            raw.Score,
		TimeLimitNs:      timeLimitNs,
		MemoryLimitBytes: memoryLimitBytes,
	}

	if raw.ExecuteFile != "" || raw.ExecuteArgs != "" {
		argv, err := shlex.Split(raw.ExecuteArgs)
		if err != nil {
			return Case{}, appErr.Wrapf(err, appErr.InvalidFormat, "case %d execute_args", index)
		}
		cs.Override = &language.ExecOverride{ExecutablePath: raw.ExecuteFile, Argv: argv}
	}

	if raw.Judge != "" {
		cs.Kind = CustomJudgeCase
		cs.OpenInput = ArchiveMemberSource{Bundle: c.bundle, Name: raw.Input}
		cs.OpenJudgeSource = ArchiveMemberSource{Bundle: c.bundle, Name: raw.Judge}
		cs.JudgeLanguage = raw.JudgeLanguage
		if cs.JudgeLanguage == "" {
			cs.JudgeLanguage = defaultJudgeLanguage
		}
		return cs, nil
	}

	cs.Kind = DefaultCase
	cs.OpenInput = ArchiveMemberSource{Bundle: c.bundle, Name: raw.Input}
	cs.OpenOutput = ArchiveMemberSource{Bundle: c.bundle, Name: raw.Output}
	return cs, nil
}
