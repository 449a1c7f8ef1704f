package config

type PathsCfg struct {
	SourceDir string `json:"sourceDir"`
	DestDir   string `json:"destDir"`
	LogDir    string `json:"logDir"`
}

type MirrorCfg struct {
	Extension         string `json:"extension"`
	RetryMax          int    `json:"retryMax"`
	RetryBackoffMs    int    `json:"retryBackoffMs"`
	Workers           int    `json:"workers"`
	DebounceMs        int    `json:"debounceMs"`
	StabilizationMs   int    `json:"stabilizationMs"`
	DuplicateWindowMs int    `json:"duplicateWindowMs"`
	CensusIntervalSec int    `json:"censusIntervalSec"`
}

type LoggingCfg struct {
	File        string `json:"file"`
	MaxBytes    int64  `json:"maxBytes"`
	BackupCount int    `json:"backupCount"`
	Level       string `json:"level"`
	// LogFiltered controls whether filtered-out files produce a journal
	// record. Off by default to keep the journal quiet.
	LogFiltered bool `json:"logFiltered"`
	// DiagnosticFile, if set, duplicates the structured diagnostic log to
	// a rotating file in addition to stdout.
	DiagnosticFile string `json:"diagnosticFile"`
}

type RuntimeCfg struct {
	StateDbPath string `json:"stateDbPath"`
}

type APICfg struct {
	Listen string `json:"listen"`
}

type Config struct {
	Version int        `json:"version"`
	Paths   PathsCfg   `json:"paths"`
	Mirror  MirrorCfg  `json:"mirror"`
	Logging LoggingCfg `json:"logging"`
	Runtime RuntimeCfg `json:"runtime"`
	API     APICfg     `json:"api"`
}
