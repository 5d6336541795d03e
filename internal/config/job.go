package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/ledger-reconciliation/internal/keys"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// DefaultNoMatchText is written for ledger rows no counterparty file has.
const DefaultNoMatchText = "Not Found"

// DefaultResultHeader labels the result column when it is created.
const DefaultResultHeader = "Reconciliation"

// =============================================================================
// JOB CONFIGURATION STRUCTURE
// =============================================================================

// JobConfig holds the configuration for one reconciliation run.
type JobConfig struct {
	// Name identifies the job in logs and output file names.
	// Default: the job file name without extension.
	Name string `yaml:"name" toml:"name"`

	Ledger LedgerConfig `yaml:"ledger" toml:"ledger"`

	// CounterpartyFiles are matched against the ledger in order. The order
	// decides how joined labels read ("Acme, Beta").
	CounterpartyFiles []CounterpartyFileConfig `yaml:"counterparty_files" toml:"counterparty_files"`

	// NoMatchText is written for unmatched ledger rows. An explicit empty
	// string leaves the cell blank.
	// Default: "Not Found"
	NoMatchText *string `yaml:"no_match_text" toml:"no_match_text"`

	JunkFilter JunkFilterConfig `yaml:"junk_filter" toml:"junk_filter"`

	Pricing PricingConfig `yaml:"pricing" toml:"pricing"`

	Output OutputConfig `yaml:"output" toml:"output"`

	// path is the file the job was loaded from.
	path string
}

// LedgerConfig describes the ledger spreadsheet.
type LedgerConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Sheet string `yaml:"sheet" toml:"sheet"`

	// HeaderRow is the 1-based row holding column headers; 0 means none.
	// Default: 1
	HeaderRow *int `yaml:"header_row" toml:"header_row"`

	// RowRange selects the data rows. Default: from the row after the
	// header to the end of the sheet.
	RowRange types.RowRange `yaml:"row_range" toml:"row_range"`

	// IDColumns build the match key; the first one is also checked for
	// ticket number format. Empty means auto-detect one column.
	IDColumns []ColumnRef `yaml:"id_columns" toml:"id_columns"`

	ResultColumn      ColumnRef `yaml:"result_column" toml:"result_column"`
	DescriptionColumn ColumnRef `yaml:"description_column" toml:"description_column"`
	QuantityColumn    ColumnRef `yaml:"quantity_column" toml:"quantity_column"`

	// Encoding and Delimiter apply to CSV ledgers.
	Encoding  string `yaml:"encoding" toml:"encoding"`
	Delimiter string `yaml:"delimiter" toml:"delimiter"`
}

// CounterpartyFileConfig describes one counterparty spreadsheet.
type CounterpartyFileConfig struct {
	Path      string         `yaml:"path" toml:"path"`
	Sheet     string         `yaml:"sheet" toml:"sheet"`
	HeaderRow *int           `yaml:"header_row" toml:"header_row"`
	RowRange  types.RowRange `yaml:"row_range" toml:"row_range"`
	IDColumns []ColumnRef    `yaml:"id_columns" toml:"id_columns"`

	// Label is written into the ledger for matched rows and names the
	// billing group. Files with different counterparty IDs must not share
	// a label.
	// Default: CounterpartyName, else "Matched".
	Label string `yaml:"label" toml:"label"`

	// CounterpartyID links the label to a billable account. Files without
	// one are matched but not billed.
	CounterpartyID   string `yaml:"counterparty_id" toml:"counterparty_id"`
	CounterpartyName string `yaml:"counterparty_name" toml:"counterparty_name"`

	Encoding  string `yaml:"encoding" toml:"encoding"`
	Delimiter string `yaml:"delimiter" toml:"delimiter"`

	// KeyTransforms are applied to identifier cells before matching.
	KeyTransforms []keys.Action `yaml:"key_transforms" toml:"key_transforms"`
}

// JunkFilterConfig tunes the junk row filter.
type JunkFilterConfig struct {
	// Keywords replaces the default footer keywords when non-empty.
	Keywords []string `yaml:"keywords" toml:"keywords"`

	// MinKeyLength rejects shorter keys without a 10-digit run; 0 disables.
	// Default: 8
	MinKeyLength *int `yaml:"min_key_length" toml:"min_key_length"`
}

// PricingConfig holds rates keyed by grade ("10mm", "20mm", "other").
type PricingConfig struct {
	Rates        map[string]float64                  `yaml:"rates" toml:"rates"`
	Descriptions map[string]string                   `yaml:"descriptions" toml:"descriptions"`
	SplitPricing map[string]types.SplitPricingConfig `yaml:"split_pricing" toml:"split_pricing"`

	// OverageRate prices 10mm tonnage above the cumulative 40% cap.
	// Zero disables the cap charge: the excess stays on the normal 10mm
	// items at the 10mm rate and a warning is logged.
	// Default: 0
	OverageRate float64 `yaml:"overage_rate" toml:"overage_rate"`

	// NumberPrefix starts every document number.
	// Default: "DRAFT"
	NumberPrefix string `yaml:"number_prefix" toml:"number_prefix"`
}

// OutputConfig controls what a run writes.
type OutputConfig struct {
	// ResultOutputPath saves the annotated ledger elsewhere. Required to
	// keep an .xlsx ledger untouched; .csv/.xls ledgers always get a copy.
	ResultOutputPath string `yaml:"result_output_path" toml:"result_output_path"`

	// ResultHeader is written to the header row of the result column.
	// Default: "Reconciliation"
	ResultHeader string `yaml:"result_header" toml:"result_header"`

	// Reports, unmatched workbook and XML document export.
	// Default: all true
	WriteReports      *bool `yaml:"write_reports" toml:"write_reports"`
	UnmatchedWorkbook *bool `yaml:"unmatched_workbook" toml:"unmatched_workbook"`
	ExportXML         *bool `yaml:"export_xml" toml:"export_xml"`
}

// Path returns the file the job was loaded from.
func (j *JobConfig) Path() string {
	return j.path
}

// NoMatch returns the configured no-match text.
func (j *JobConfig) NoMatch() string {
	if j.NoMatchText == nil {
		return DefaultNoMatchText
	}
	return *j.NoMatchText
}

// Junk returns the junk filter the job configures.
func (j *JobConfig) Junk() keys.JunkFilter {
	f := keys.DefaultJunkFilter()
	if len(j.JunkFilter.Keywords) > 0 {
		f.Keywords = j.JunkFilter.Keywords
	}
	if j.JunkFilter.MinKeyLength != nil {
		f.MinKeyLength = *j.JunkFilter.MinKeyLength
	}
	return f
}

// Enabled reports the value of an optional flag that defaults to true.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}

// HeaderRowOf dereferences a header row setting after defaults.
func HeaderRowOf(p *int) int {
	if p == nil {
		return 1
	}
	return *p
}

// =============================================================================
// JOB LOADING
// =============================================================================

// LoadJob reads a job file (.yaml, .yml or .toml).
//
// PARAMETERS:
//   - jobPath: The path to the job file.
//
// RETURNS:
//   - A pointer to the JobConfig with defaults applied and relative paths
//     resolved against the job file's directory.
//   - A *ConfigError if the job is invalid, or an error if it cannot be read.
func LoadJob(jobPath string) (*JobConfig, error) {
	data, err := os.ReadFile(jobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var job JobConfig
	switch strings.ToLower(filepath.Ext(jobPath)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&job); err != nil {
			return nil, &ConfigError{File: jobPath, Field: "(file)", Problem: err.Error()}
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigError{File: jobPath, Field: "(file)", Problem: err.Error()}
		}
	default:
		return nil, &ConfigError{File: jobPath, Field: "(file)", Problem: "job files must be .yaml, .yml or .toml"}
	}

	job.path = jobPath
	applyJobDefaults(&job, jobPath)

	if err := ValidateJob(&job); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.File == "" {
			ce.File = jobPath
		}
		return nil, err
	}
	return &job, nil
}

// FindJob resolves a job given as a path or as a bare name in jobsDir.
func FindJob(name, jobsDir string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		candidate := filepath.Join(jobsDir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("job %q not found (looked in %s)", name, jobsDir)
}

// applyJobDefaults sets default values for any unset job options.
func applyJobDefaults(job *JobConfig, jobPath string) {
	if job.Name == "" && jobPath != "" {
		base := filepath.Base(jobPath)
		job.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	baseDir := filepath.Dir(jobPath)

	job.Ledger.Path = resolvePath(baseDir, job.Ledger.Path)
	if job.Ledger.HeaderRow == nil {
		one := 1
		job.Ledger.HeaderRow = &one
	}
	defaultRange(&job.Ledger.RowRange, *job.Ledger.HeaderRow)

	for i := range job.CounterpartyFiles {
		cf := &job.CounterpartyFiles[i]
		cf.Path = resolvePath(baseDir, cf.Path)
		if cf.HeaderRow == nil {
			one := 1
			cf.HeaderRow = &one
		}
		defaultRange(&cf.RowRange, *cf.HeaderRow)
		if cf.Label == "" {
			cf.Label = cf.CounterpartyName
		}
		if cf.Label == "" {
			cf.Label = "Matched"
		}
	}

	if job.Output.ResultHeader == "" {
		job.Output.ResultHeader = DefaultResultHeader
	}
	if job.Output.ResultOutputPath != "" {
		job.Output.ResultOutputPath = resolvePath(baseDir, job.Output.ResultOutputPath)
	}
}

func defaultRange(r *types.RowRange, headerRow int) {
	if r.Start == 0 {
		r.Start = headerRow + 1
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// =============================================================================
// JOB VALIDATION
// =============================================================================

// ValidateJob checks a job after defaults have been applied.
func ValidateJob(job *JobConfig) error {
	if job.Ledger.Path == "" {
		return &ConfigError{Field: "ledger.path", Problem: "is required"}
	}
	if err := validateSource("ledger", HeaderRowOf(job.Ledger.HeaderRow), job.Ledger.RowRange, job.Ledger.Encoding); err != nil {
		return err
	}

	if len(job.CounterpartyFiles) == 0 {
		return &ConfigError{Field: "counterparty_files", Problem: "at least one file is required"}
	}
	for i, cf := range job.CounterpartyFiles {
		field := fmt.Sprintf("counterparty_files[%d]", i)
		if cf.Path == "" {
			return &ConfigError{Field: field + ".path", Problem: "is required"}
		}
		if err := validateSource(field, HeaderRowOf(cf.HeaderRow), cf.RowRange, cf.Encoding); err != nil {
			return err
		}
		if _, err := keys.NewTransformer(cf.KeyTransforms); err != nil {
			return &ConfigError{Field: field + ".key_transforms", Problem: err.Error()}
		}
	}

	if err := validateLabels(job.CounterpartyFiles); err != nil {
		return err
	}

	if n := job.JunkFilter.MinKeyLength; n != nil && *n < 0 {
		return &ConfigError{Field: "junk_filter.min_key_length", Problem: "must not be negative"}
	}

	return validatePricing(job.Pricing)
}

// validateLabels rejects a label shared by files of different counterparties.
// Rows are billed by label, so a shared label would bill one counterparty's
// deliveries to the other as well.
func validateLabels(files []CounterpartyFileConfig) error {
	owner := make(map[string]int)
	for i, cf := range files {
		first, ok := owner[cf.Label]
		if !ok {
			owner[cf.Label] = i
			continue
		}
		if other := files[first].CounterpartyID; other != cf.CounterpartyID {
			return &ConfigError{
				Field: fmt.Sprintf("counterparty_files[%d].label", i),
				Problem: fmt.Sprintf("label %q is already used by counterparty_files[%d] (counterparty_id %q, this file %q); give each counterparty its own label",
					cf.Label, first, other, cf.CounterpartyID),
			}
		}
	}
	return nil
}

func validateSource(field string, headerRow int, rng types.RowRange, encoding string) error {
	if headerRow < 0 {
		return &ConfigError{Field: field + ".header_row", Problem: "must not be negative"}
	}
	if rng.Start < 1 {
		return &ConfigError{Field: field + ".row_range.start", Problem: "must be at least 1"}
	}
	if rng.End != 0 && rng.End < rng.Start {
		return &ConfigError{Field: field + ".row_range", Problem: fmt.Sprintf("end %d is before start %d", rng.End, rng.Start)}
	}
	if headerRow > 0 && rng.Start <= headerRow {
		return &ConfigError{Field: field + ".row_range.start", Problem: fmt.Sprintf("must be after header row %d", headerRow)}
	}
	if _, err := sheet.LookupEncoding(encoding); err != nil {
		return &ConfigError{Field: field + ".encoding", Problem: err.Error()}
	}
	return nil
}

func validatePricing(p PricingConfig) error {
	for name, rate := range p.Rates {
		if _, err := ParseGrade(name); err != nil {
			return &ConfigError{Field: "pricing.rates." + name, Problem: err.Error()}
		}
		if rate < 0 {
			return &ConfigError{Field: "pricing.rates." + name, Problem: "must not be negative"}
		}
	}
	for name := range p.Descriptions {
		if _, err := ParseGrade(name); err != nil {
			return &ConfigError{Field: "pricing.descriptions." + name, Problem: err.Error()}
		}
	}
	for name, split := range p.SplitPricing {
		field := "pricing.split_pricing." + name
		if _, err := ParseGrade(name); err != nil {
			return &ConfigError{Field: field, Problem: err.Error()}
		}
		if split.ThresholdQuantity < 0 || split.RateTier1 < 0 || split.RateTier2 < 0 {
			return &ConfigError{Field: field, Problem: "threshold and rates must not be negative"}
		}
	}
	if p.OverageRate < 0 {
		return &ConfigError{Field: "pricing.overage_rate", Problem: "must not be negative"}
	}
	return nil
}

// ParseGrade maps a configuration key to a Grade.
func ParseGrade(name string) (types.Grade, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "10mm", "10":
		return types.Grade10, nil
	case "20mm", "20":
		return types.Grade20, nil
	case "other":
		return types.GradeOther, nil
	}
	return "", fmt.Errorf("unknown grade %q (use 10mm, 20mm or other)", name)
}
