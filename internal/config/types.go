package config

// Config is the top-level configuration parsed from reviewflow YAML.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Log      Log      `yaml:"log"`
	Checks   Checks   `yaml:"checks"`
	Pipeline Pipeline `yaml:"pipeline"`
}

// Server configures the read API.
type Server struct {
	Addr string `yaml:"addr"`
}

// Database selects the execution store. A postgres:// DSN uses Postgres,
// anything else is a SQLite path.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Checks configures check-run reporting.
type Checks struct {
	Enabled      bool     `yaml:"enabled"`
	NullFallback bool     `yaml:"null_fallback"`
	Platforms    []string `yaml:"platforms"`
	GitHub       GitHub   `yaml:"github"`
}

// GitHub configures the GitHub check-run adapter.
type GitHub struct {
	// Transport is "rest" (token + HTTP) or "gh" (the gh CLI's auth).
	Transport  string            `yaml:"transport"`
	APIURL     string            `yaml:"api_url"`
	Token      string            `yaml:"token"`
	OrgTokens  map[string]string `yaml:"org_tokens"`
	Timeout    string            `yaml:"timeout"`
	MaxRetries int               `yaml:"max_retries"`
}

// Pipeline configures the stage list run by `pipeline smoke`.
type Pipeline struct {
	Name   string  `yaml:"name"`
	Stages []Stage `yaml:"stages"`
}

// Stage is one configured stage. FailFiles records a file-analysis error for
// each listed file; Skip marks the run skipped with SkipTo as jump target.
type Stage struct {
	Name      string   `yaml:"name"`
	FailFiles []string `yaml:"fail_files"`
	Fail      string   `yaml:"fail"`
	Skip      string   `yaml:"skip"`
	SkipTo    string   `yaml:"skip_to"`
}
